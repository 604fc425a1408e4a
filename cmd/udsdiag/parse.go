package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/LoveWonYoung/udsdiag/uds"
)

// parseUint accepts decimal, 0x hex and 0b binary numbers.
func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return v, nil
}

func parseID(s string) (uint32, error) {
	v, err := parseUint(s, 29)
	return uint32(v), err
}

func parseDID(s string) (uint16, error) {
	v, err := parseUint(withHexPrefix(s), 16)
	return uint16(v), err
}

func parseDTC(s string) (uint32, error) {
	v, err := parseUint(withHexPrefix(s), 24)
	return uint32(v), err
}

// withHexPrefix reads bare identifiers like F190 as hex.
func withHexPrefix(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		return s
	}
	return "0x" + s
}

func parseByte(s string) (byte, error) {
	v, err := parseUint(s, 8)
	return byte(v), err
}

func parseLevel(s string) (byte, error) {
	level, err := parseByte(s)
	if err != nil {
		return 0, err
	}
	if level < 1 || level > 0x3F {
		return 0, fmt.Errorf("security level %d out of range 1..63", level)
	}
	return level, nil
}

// parseHexBytes accepts "0102AB", "01 02 ab" and "01:02:AB".
func parseHexBytes(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(s)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data %q: %w", s, err)
	}
	return data, nil
}

func parseSessionType(s string) (uds.SessionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "default", "1", "0x01":
		return uds.DefaultSession, nil
	case "programming", "prog", "2", "0x02":
		return uds.ProgrammingSession, nil
	case "extended", "ext", "3", "0x03":
		return uds.ExtendedSession, nil
	}
	return 0, fmt.Errorf("unknown session %q (want default, programming or extended)", s)
}

func parseResetType(s string) (uds.ResetType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hard", "1", "0x01":
		return uds.HardReset, nil
	case "key-off-on", "keyoffon", "2", "0x02":
		return uds.KeyOffOnReset, nil
	case "soft", "3", "0x03":
		return uds.SoftReset, nil
	}
	return 0, fmt.Errorf("unknown reset type %q (want hard, key-off-on or soft)", s)
}
