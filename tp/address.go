package tp

import (
	"fmt"
	"strings"

	"github.com/LoveWonYoung/udsdiag/driver"
)

type AddressingMode uint8

const (
	Normal11bits AddressingMode = iota
	Normal29bits
	NormalFixed29bits
)

const (
	normalFixedPhysicalBase = 0x18DA0000
	maxStandardID           = 0x7FF
	maxExtendedID           = 0x1FFFFFFF
)

func (m AddressingMode) String() string {
	switch m {
	case Normal11bits:
		return "normal_11bits"
	case Normal29bits:
		return "normal_29bits"
	case NormalFixed29bits:
		return "normal_fixed_29bits"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseAddressingMode accepts the names produced by String.
func ParseAddressingMode(s string) (AddressingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal_11bits", "normal11":
		return Normal11bits, nil
	case "normal_29bits", "normal29":
		return Normal29bits, nil
	case "normal_fixed_29bits", "fixed29":
		return NormalFixed29bits, nil
	}
	return 0, fmt.Errorf("unknown addressing mode %q", s)
}

// Address is the tester/ECU arbitration id pair of one diagnostic link.
// TxID is what we send on, RxID is what the peer answers on.
type Address struct {
	Mode          AddressingMode
	TxID          uint32
	RxID          uint32
	TargetAddress byte
	SourceAddress byte
}

// NewAddress validates the id pair. In NormalFixed29bits mode the ids are
// derived from targetAddress and sourceAddress and txID/rxID are ignored.
func NewAddress(mode AddressingMode, txID, rxID uint32, targetAddress, sourceAddress byte) (*Address, error) {
	a := &Address{
		Mode:          mode,
		TxID:          txID,
		RxID:          rxID,
		TargetAddress: targetAddress,
		SourceAddress: sourceAddress,
	}
	switch mode {
	case Normal11bits:
		if txID > maxStandardID || rxID > maxStandardID {
			return nil, fmt.Errorf("11-bit address ids out of range: tx=0x%X rx=0x%X", txID, rxID)
		}
	case Normal29bits:
		if txID > maxExtendedID || rxID > maxExtendedID {
			return nil, fmt.Errorf("29-bit address ids out of range: tx=0x%X rx=0x%X", txID, rxID)
		}
	case NormalFixed29bits:
		if targetAddress == sourceAddress {
			return nil, fmt.Errorf("target address and source address must differ (0x%02X)", targetAddress)
		}
		a.TxID = normalFixedPhysicalBase | uint32(targetAddress)<<8 | uint32(sourceAddress)
		a.RxID = normalFixedPhysicalBase | uint32(sourceAddress)<<8 | uint32(targetAddress)
	default:
		return nil, fmt.Errorf("addressing mode %v is not supported", mode)
	}
	if a.TxID == a.RxID {
		return nil, fmt.Errorf("tx id and rx id must differ (0x%X)", a.TxID)
	}
	return a, nil
}

// Is29Bit reports whether frames use extended identifiers.
func (a *Address) Is29Bit() bool {
	return a.Mode != Normal11bits
}

// IsForMe reports whether an inbound frame belongs to this link.
func (a *Address) IsForMe(f driver.Frame) bool {
	return f.ID == a.RxID && f.Extended == a.Is29Bit()
}

// TxFrame builds an outbound frame on TxID.
func (a *Address) TxFrame(data []byte) driver.Frame {
	return driver.Frame{ID: a.TxID, Extended: a.Is29Bit(), Data: data}
}

// Reverse returns the same link seen from the ECU side.
func (a *Address) Reverse() *Address {
	return &Address{
		Mode:          a.Mode,
		TxID:          a.RxID,
		RxID:          a.TxID,
		TargetAddress: a.SourceAddress,
		SourceAddress: a.TargetAddress,
	}
}

func (a *Address) String() string {
	return fmt.Sprintf("%v tx=0x%X rx=0x%X", a.Mode, a.TxID, a.RxID)
}
