package ecusim

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"slices"

	"github.com/LoveWonYoung/udsdiag/flash"
	"github.com/LoveWonYoung/udsdiag/uds"
)

const (
	dtcAvailabilityMask = 0xFF
	dtcFormatISO14229   = 0x01
	defaultSeedLength   = 4
)

// P2 50 ms, P2* 5 s.
var sessionTiming = []byte{0x00, 0x32, 0x01, 0xF4}

func (e *ECU) sessionControl(req []byte) []byte {
	if len(req) != 2 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	sub := req[1] & 0x7F
	switch uds.SessionType(sub) {
	case uds.DefaultSession, uds.ProgrammingSession, uds.ExtendedSession:
	default:
		return negative(req[0], uds.NRCSubFunctionNotSupported)
	}
	e.session = uds.SessionType(sub)
	e.lockAll()
	return positive(req[0], append([]byte{sub}, sessionTiming...)...)
}

func (e *ECU) ecuReset(req []byte) []byte {
	if len(req) != 2 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	sub := req[1] & 0x7F
	if sub < byte(uds.HardReset) || sub > byte(uds.SoftReset) {
		return negative(req[0], uds.NRCSubFunctionNotSupported)
	}
	e.session = uds.DefaultSession
	e.lockAll()
	return positive(req[0], sub)
}

func (e *ECU) readDID(req []byte) []byte {
	if len(req) != 3 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	did := binary.BigEndian.Uint16(req[1:3])
	value, ok := e.cfg.DIDs[did]
	if !ok {
		return negative(req[0], uds.NRCRequestOutOfRange)
	}
	return positive(req[0], append([]byte{req[1], req[2]}, value...)...)
}

func (e *ECU) writeDID(req []byte) []byte {
	if len(req) < 4 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	did := binary.BigEndian.Uint16(req[1:3])
	level, ok := e.cfg.WritableDIDs[did]
	if !ok {
		return negative(req[0], uds.NRCRequestOutOfRange)
	}
	if e.session == uds.DefaultSession {
		return negative(req[0], uds.NRCServiceNotSupportedInActiveSession)
	}
	if level != 0 && !e.unlocked[level] {
		return negative(req[0], uds.NRCSecurityAccessDenied)
	}
	if current, ok := e.cfg.DIDs[did]; ok && len(current) != len(req)-3 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	e.cfg.DIDs[did] = append([]byte(nil), req[3:]...)
	return positive(req[0], req[1], req[2])
}

func (e *ECU) securityAccess(req []byte) []byte {
	if len(req) < 2 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	sub := req[1] & 0x7F
	level := (sub + 1) / 2
	if sub == 0 || !slices.Contains(e.cfg.SecurityLevels, level) {
		return negative(req[0], uds.NRCSubFunctionNotSupported)
	}
	if sub%2 == 1 {
		return e.requestSeed(req, sub, level)
	}
	return e.sendKey(req, sub, level)
}

func (e *ECU) requestSeed(req []byte, sub, level byte) []byte {
	if len(req) != 2 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	if until, ok := e.delayUntil[level]; ok && e.now().Before(until) {
		return negative(req[0], uds.NRCRequiredTimeDelayNotExpired)
	}
	if e.unlocked[level] {
		return positive(req[0], append([]byte{sub}, make([]byte, e.seedLength())...)...)
	}
	seed := e.newSeed(level)
	e.seeds[level] = seed
	return positive(req[0], append([]byte{sub}, seed...)...)
}

func (e *ECU) sendKey(req []byte, sub, level byte) []byte {
	if len(req) < 3 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	seed, ok := e.seeds[level]
	if !ok {
		return negative(req[0], uds.NRCRequestSequenceError)
	}
	delete(e.seeds, level)

	want, err := e.cfg.Keys.ComputeKey(seed, level)
	if err != nil || !bytes.Equal(want, req[2:]) {
		e.attempts[level]++
		if e.cfg.MaxAttempts > 0 && e.attempts[level] >= e.cfg.MaxAttempts {
			e.attempts[level] = 0
			e.delayUntil[level] = e.now().Add(e.cfg.SecurityDelay)
			return negative(req[0], uds.NRCExceedNumberOfAttempts)
		}
		return negative(req[0], uds.NRCInvalidKey)
	}
	e.attempts[level] = 0
	e.unlocked[level] = true
	return positive(req[0], sub)
}

func (e *ECU) seedLength() int {
	if e.cfg.SeedLength > 0 {
		return e.cfg.SeedLength
	}
	return defaultSeedLength
}

func (e *ECU) newSeed(level byte) []byte {
	if e.cfg.Seed != nil {
		return e.cfg.Seed(level)
	}
	seed := make([]byte, e.seedLength())
	_, _ = rand.Read(seed)
	if uds.IsZeroSeed(seed) {
		seed[len(seed)-1] = 0x01
	}
	return seed
}

func (e *ECU) routineControl(req []byte) [][]byte {
	if len(req) < 4 {
		return one(negative(req[0], uds.NRCIncorrectMessageLength))
	}
	control := uds.RoutineControlType(req[1] & 0x7F)
	id := binary.BigEndian.Uint16(req[2:4])
	r, ok := e.cfg.Routines[id]
	if !ok {
		return one(negative(req[0], uds.NRCRequestOutOfRange))
	}
	echo := []byte{byte(control), req[2], req[3]}
	switch control {
	case uds.StartRoutine:
		if r.SecurityLevel != 0 && !e.unlocked[r.SecurityLevel] {
			return one(negative(req[0], uds.NRCSecurityAccessDenied))
		}
		e.running[id] = true
		out := make([][]byte, 0, r.PendingReplies+1)
		for range r.PendingReplies {
			out = append(out, negative(req[0], uds.NRCResponsePending))
		}
		return append(out, positive(req[0], append(echo, r.Status...)...))
	case uds.StopRoutine:
		if !e.running[id] {
			return one(negative(req[0], uds.NRCRequestSequenceError))
		}
		delete(e.running, id)
		return one(positive(req[0], append(echo, r.Status...)...))
	case uds.RequestRoutineResults:
		if !e.running[id] {
			return one(negative(req[0], uds.NRCRequestSequenceError))
		}
		return one(positive(req[0], append(echo, r.Results...)...))
	default:
		return one(negative(req[0], uds.NRCSubFunctionNotSupported))
	}
}

func (e *ECU) clearDTCs(req []byte) []byte {
	if len(req) != 4 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	group := uint32(req[1])<<16 | uint32(req[2])<<8 | uint32(req[3])
	if group == uds.GroupAllDTCs {
		e.cfg.DTCs = nil
		return positive(req[0])
	}
	n := len(e.cfg.DTCs)
	e.cfg.DTCs = slices.DeleteFunc(e.cfg.DTCs, func(d uds.DTCRecord) bool { return d.Code == group })
	if len(e.cfg.DTCs) == n {
		return negative(req[0], uds.NRCRequestOutOfRange)
	}
	return positive(req[0])
}

func (e *ECU) readDTCInformation(req []byte) []byte {
	if len(req) < 2 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	report := req[1] & 0x7F
	switch report {
	case uds.ReportNumberOfDTCByStatusMask, uds.ReportDTCByStatusMask:
		if len(req) != 3 {
			return negative(req[0], uds.NRCIncorrectMessageLength)
		}
		matched := e.matching(req[2])
		if report == uds.ReportNumberOfDTCByStatusMask {
			return positive(req[0], report, dtcAvailabilityMask, dtcFormatISO14229, byte(len(matched)>>8), byte(len(matched)))
		}
		return positive(req[0], append([]byte{report, dtcAvailabilityMask}, encodeDTCs(matched)...)...)
	case uds.ReportSupportedDTC:
		if len(req) != 2 {
			return negative(req[0], uds.NRCIncorrectMessageLength)
		}
		return positive(req[0], append([]byte{report, dtcAvailabilityMask}, encodeDTCs(e.cfg.DTCs)...)...)
	case uds.ReportDTCSnapshotRecordByDTCNumber, uds.ReportDTCExtDataRecordByDTCNumber:
		if len(req) != 6 {
			return negative(req[0], uds.NRCIncorrectMessageLength)
		}
		code := uint32(req[2])<<16 | uint32(req[3])<<8 | uint32(req[4])
		idx := slices.IndexFunc(e.cfg.DTCs, func(d uds.DTCRecord) bool { return d.Code == code })
		if idx < 0 {
			return negative(req[0], uds.NRCRequestOutOfRange)
		}
		records := e.cfg.Snapshots
		if report == uds.ReportDTCExtDataRecordByDTCNumber {
			records = e.cfg.Extended
		}
		out := append([]byte{report}, encodeDTCs(e.cfg.DTCs[idx:idx+1])...)
		return positive(req[0], append(out, records[code]...)...)
	default:
		return negative(req[0], uds.NRCSubFunctionNotSupported)
	}
}

func (e *ECU) matching(mask byte) []uds.DTCRecord {
	var out []uds.DTCRecord
	for _, d := range e.cfg.DTCs {
		if d.Status&mask != 0 {
			out = append(out, d)
		}
	}
	return out
}

func encodeDTCs(records []uds.DTCRecord) []byte {
	out := make([]byte, 0, 4*len(records))
	for _, d := range records {
		out = append(out, byte(d.Code>>16), byte(d.Code>>8), byte(d.Code), d.Status)
	}
	return out
}

func (e *ECU) requestDownload(req []byte) []byte {
	if len(req) != 11 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	if e.session != uds.ProgrammingSession {
		return negative(req[0], uds.NRCServiceNotSupportedInActiveSession)
	}
	if req[1] != 0x00 || req[2] != 0x44 {
		return negative(req[0], uds.NRCRequestOutOfRange)
	}
	if e.active != nil {
		return negative(req[0], uds.NRCConditionsNotCorrect)
	}
	size := binary.BigEndian.Uint32(req[7:11])
	if size == 0 {
		return negative(req[0], uds.NRCUploadDownloadNotAccepted)
	}
	e.active = &download{
		address: binary.BigEndian.Uint32(req[3:7]),
		size:    int(size),
		counter: 1,
	}
	maxLen := e.cfg.MaxBlockLength
	return positive(req[0], 0x20, byte(maxLen>>8), byte(maxLen))
}

func (e *ECU) transferData(req []byte) []byte {
	if len(req) < 2 {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	if e.active == nil {
		return negative(req[0], uds.NRCRequestSequenceError)
	}
	if req[1] != e.active.counter {
		return negative(req[0], uds.NRCWrongBlockSequenceCounter)
	}
	if len(req) > e.cfg.MaxBlockLength {
		return negative(req[0], uds.NRCIncorrectMessageLength)
	}
	if len(e.active.data)+len(req)-2 > e.active.size {
		return negative(req[0], uds.NRCTransferDataSuspended)
	}
	e.active.data = append(e.active.data, req[2:]...)
	e.active.counter++
	return positive(req[0], req[1])
}

func (e *ECU) transferExit(req []byte) []byte {
	if e.active == nil {
		return negative(req[0], uds.NRCRequestSequenceError)
	}
	if len(e.active.data) != e.active.size {
		return negative(req[0], uds.NRCGeneralProgrammingFailure)
	}
	e.memory = append(e.memory, flash.Segment{Address: e.active.address, Data: e.active.data})
	e.active = nil
	return positive(req[0])
}
