package uds

import (
	"encoding/binary"
	"fmt"
	"time"
)

// SessionType is the DiagnosticSessionControl sub-function.
type SessionType byte

const (
	DefaultSession     SessionType = 0x01
	ProgrammingSession SessionType = 0x02
	ExtendedSession    SessionType = 0x03
)

func (s SessionType) String() string {
	switch s {
	case DefaultSession:
		return "default"
	case ProgrammingSession:
		return "programming"
	case ExtendedSession:
		return "extended"
	default:
		return fmt.Sprintf("session(0x%02X)", byte(s))
	}
}

// SessionTiming is the P2/P2* pair reported by the ECU on session change.
type SessionTiming struct {
	P2     time.Duration
	P2Star time.Duration
}

func DiagnosticSessionControl(session SessionType) Request {
	return NewSubFunctionRequest(SIDDiagnosticSessionControl, byte(session))
}

// ParseDiagnosticSessionControl checks the echo and extracts timing when
// the ECU reports it.
func ParseDiagnosticSessionControl(resp Response, session SessionType) (SessionTiming, error) {
	data, err := positiveData(resp, SIDDiagnosticSessionControl, 1)
	if err != nil {
		return SessionTiming{}, err
	}
	if data[0] != byte(session) {
		return SessionTiming{}, &EchoMismatchError{ServiceID: SIDDiagnosticSessionControl, Field: "session", Expected: uint32(session), Got: uint32(data[0])}
	}
	if len(data) == 1 {
		return SessionTiming{}, nil
	}
	if len(data) < 5 {
		return SessionTiming{}, &ShortResponseError{ServiceID: SIDDiagnosticSessionControl, Need: 6, Got: len(data) + 1}
	}
	return SessionTiming{
		P2:     time.Duration(binary.BigEndian.Uint16(data[1:3])) * time.Millisecond,
		P2Star: time.Duration(binary.BigEndian.Uint16(data[3:5])) * 10 * time.Millisecond,
	}, nil
}

// ResetType is the ECUReset sub-function.
type ResetType byte

const (
	HardReset     ResetType = 0x01
	KeyOffOnReset ResetType = 0x02
	SoftReset     ResetType = 0x03
)

func ECUReset(reset ResetType) Request {
	return NewSubFunctionRequest(SIDECUReset, byte(reset))
}

func ParseECUReset(resp Response, reset ResetType) error {
	data, err := positiveData(resp, SIDECUReset, 1)
	if err != nil {
		return err
	}
	if data[0] != byte(reset) {
		return &EchoMismatchError{ServiceID: SIDECUReset, Field: "reset type", Expected: uint32(reset), Got: uint32(data[0])}
	}
	return nil
}

func ReadDataByIdentifier(did uint16) Request {
	return NewRequest(SIDReadDataByIdentifier, byte(did>>8), byte(did))
}

// ParseReadDataByIdentifier verifies the DID echo and returns only the
// record data.
func ParseReadDataByIdentifier(resp Response, did uint16) ([]byte, error) {
	data, err := positiveData(resp, SIDReadDataByIdentifier, 2)
	if err != nil {
		return nil, err
	}
	if got := binary.BigEndian.Uint16(data[0:2]); got != did {
		return nil, &EchoMismatchError{ServiceID: SIDReadDataByIdentifier, Field: "DID", Expected: uint32(did), Got: uint32(got)}
	}
	return data[2:], nil
}

func WriteDataByIdentifier(did uint16, record []byte) Request {
	data := make([]byte, 0, 2+len(record))
	data = append(data, byte(did>>8), byte(did))
	return NewRequest(SIDWriteDataByIdentifier, append(data, record...)...)
}

func ParseWriteDataByIdentifier(resp Response, did uint16) error {
	data, err := positiveData(resp, SIDWriteDataByIdentifier, 2)
	if err != nil {
		return err
	}
	if got := binary.BigEndian.Uint16(data[0:2]); got != did {
		return &EchoMismatchError{ServiceID: SIDWriteDataByIdentifier, Field: "DID", Expected: uint32(did), Got: uint32(got)}
	}
	return nil
}

// MaxSecurityLevel keeps the key sub-function (2*level) below 0x7F.
const MaxSecurityLevel = 0x3F

func checkSecurityLevel(level byte) error {
	if level == 0 || level > MaxSecurityLevel {
		return fmt.Errorf("security level %d out of range 1..%d", level, MaxSecurityLevel)
	}
	return nil
}

// SeedSubFunction is 2*level-1.
func SeedSubFunction(level byte) byte { return 2*level - 1 }

// KeySubFunction is 2*level.
func KeySubFunction(level byte) byte { return 2 * level }

func SecurityAccessRequestSeed(level byte) (Request, error) {
	if err := checkSecurityLevel(level); err != nil {
		return Request{}, err
	}
	return NewSubFunctionRequest(SIDSecurityAccess, SeedSubFunction(level)), nil
}

func SecurityAccessSendKey(level byte, key []byte) (Request, error) {
	if err := checkSecurityLevel(level); err != nil {
		return Request{}, err
	}
	if len(key) == 0 {
		return Request{}, fmt.Errorf("security key for level %d is empty", level)
	}
	return NewSubFunctionRequest(SIDSecurityAccess, KeySubFunction(level), key...), nil
}

// ParseSecuritySeed returns the seed bytes following the sub-function echo.
func ParseSecuritySeed(resp Response, level byte) ([]byte, error) {
	data, err := positiveData(resp, SIDSecurityAccess, 2)
	if err != nil {
		return nil, err
	}
	if want := SeedSubFunction(level); data[0] != want {
		return nil, &EchoMismatchError{ServiceID: SIDSecurityAccess, Field: "sub-function", Expected: uint32(want), Got: uint32(data[0])}
	}
	return data[1:], nil
}

func ParseSecurityKey(resp Response, level byte) error {
	data, err := positiveData(resp, SIDSecurityAccess, 1)
	if err != nil {
		return err
	}
	if want := KeySubFunction(level); data[0] != want {
		return &EchoMismatchError{ServiceID: SIDSecurityAccess, Field: "sub-function", Expected: uint32(want), Got: uint32(data[0])}
	}
	return nil
}

// IsZeroSeed reports the "already unlocked" seed.
func IsZeroSeed(seed []byte) bool {
	for _, b := range seed {
		if b != 0 {
			return false
		}
	}
	return true
}

// RoutineControlType is the RoutineControl sub-function.
type RoutineControlType byte

const (
	StartRoutine          RoutineControlType = 0x01
	StopRoutine           RoutineControlType = 0x02
	RequestRoutineResults RoutineControlType = 0x03
)

func RoutineControl(control RoutineControlType, routineID uint16, params []byte) Request {
	data := make([]byte, 0, 2+len(params))
	data = append(data, byte(routineID>>8), byte(routineID))
	return NewSubFunctionRequest(SIDRoutineControl, byte(control), append(data, params...)...)
}

// ParseRoutineControl checks control type and routine id echo and returns
// the status record.
func ParseRoutineControl(resp Response, control RoutineControlType, routineID uint16) ([]byte, error) {
	data, err := positiveData(resp, SIDRoutineControl, 3)
	if err != nil {
		return nil, err
	}
	if data[0] != byte(control) {
		return nil, &EchoMismatchError{ServiceID: SIDRoutineControl, Field: "control type", Expected: uint32(control), Got: uint32(data[0])}
	}
	if got := binary.BigEndian.Uint16(data[1:3]); got != routineID {
		return nil, &EchoMismatchError{ServiceID: SIDRoutineControl, Field: "routine id", Expected: uint32(routineID), Got: uint32(got)}
	}
	return data[3:], nil
}

// GroupAllDTCs clears every DTC group.
const GroupAllDTCs uint32 = 0xFFFFFF

func ClearDiagnosticInformation(group uint32) Request {
	return NewRequest(SIDClearDiagnosticInformation, byte(group>>16), byte(group>>8), byte(group))
}

func ParseClearDiagnosticInformation(resp Response) error {
	_, err := positiveData(resp, SIDClearDiagnosticInformation, 0)
	return err
}
