package ecusim

import (
	"time"

	"github.com/LoveWonYoung/udsdiag/security"
	"github.com/LoveWonYoung/udsdiag/uds"
)

// Routine describes how the simulator answers RoutineControl for one id.
type Routine struct {
	// SecurityLevel that must be unlocked to start the routine, 0 for none.
	SecurityLevel byte
	// PendingReplies is the number of NRC 0x78 answers sent before the
	// final start response.
	PendingReplies int
	Status         []byte
	Results        []byte
}

type Config struct {
	DIDs map[uint16][]byte
	// WritableDIDs maps a writable DID to the security level needed to
	// write it, 0 for none. Writes are refused in the default session.
	WritableDIDs map[uint16]byte

	Keys           security.KeyAlgorithm
	SecurityLevels []byte
	SeedLength     int
	// Seed overrides the random seed generator.
	Seed func(level byte) []byte
	// The invalid key that reaches MaxAttempts is answered with NRC 0x36
	// and arms SecurityDelay. Zero disables the ECU side lockout.
	MaxAttempts   int
	SecurityDelay time.Duration

	Routines map[uint16]Routine
	DTCs     []uds.DTCRecord
	// Snapshots holds the raw 0x19 0x04 record data per DTC code.
	Snapshots map[uint32][]byte
	Extended  map[uint32][]byte

	// MaxBlockLength is reported in the RequestDownload response.
	MaxBlockLength int
}

// DefaultConfig is a small body controller: identification DIDs, two
// security levels with the XOR 0xFF example algorithm, a self test and an
// actuator routine and a pair of stored DTCs.
func DefaultConfig() Config {
	return Config{
		DIDs: map[uint16][]byte{
			0xF190: []byte("WVWZZZ1JZXW000001"),
			0xF18C: []byte("SN-00042"),
			0xF189: []byte("SW 1.4.2"),
			0xF123: {0, 0, 0, 0, 0, 0},
		},
		WritableDIDs: map[uint16]byte{
			0xF123: 1,
		},
		Keys:           security.XORAlgorithm{Mask: 0xFF},
		SecurityLevels: []byte{1, 3},
		SeedLength:     4,
		MaxAttempts:    3,
		SecurityDelay:  10 * time.Second,
		Routines: map[uint16]Routine{
			0xFF00: {Status: []byte{0x00}, Results: []byte{0x00, 0x01}},
			0xFF01: {SecurityLevel: 1, PendingReplies: 2, Status: []byte{0x00}, Results: []byte{0x02}},
		},
		DTCs: []uds.DTCRecord{
			{Code: 0x012213, Status: 0x2F},
			{Code: 0xC10000, Status: 0x08},
		},
		Snapshots: map[uint32][]byte{
			0x012213: {0x01, 0x02, 0xF1, 0x90, 0x0C, 0x80},
		},
		Extended: map[uint32][]byte{
			0x012213: {0x01, 0x05},
		},
		MaxBlockLength: 0x102,
	}
}

func (c Config) clone() Config {
	out := c
	out.DIDs = make(map[uint16][]byte, len(c.DIDs))
	for k, v := range c.DIDs {
		out.DIDs[k] = append([]byte(nil), v...)
	}
	out.DTCs = append([]uds.DTCRecord(nil), c.DTCs...)
	return out
}
