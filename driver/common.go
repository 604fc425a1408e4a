package driver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Identifier limits for classic CAN.
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDataLength = 8

	// frameSize is the size of a struct can_frame on the wire.
	frameSize = 16

	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000
)

var (
	ErrClosed         = errors.New("driver: bus closed")
	ErrInvalidID      = errors.New("driver: invalid arbitration id")
	ErrInvalidLength  = errors.New("driver: invalid data length")
	ErrShortFrameData = errors.New("driver: short can_frame buffer")
)

// Frame is a classic CAN data frame. Data holds 0..8 bytes.
type Frame struct {
	ID       uint32
	Extended bool
	Data     []byte
}

// NewFrame copies data into a new frame. IDs above 0x7FF are marked extended.
func NewFrame(id uint32, data []byte) Frame {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Frame{ID: id, Extended: id > MaxStandardID, Data: buf}
}

// Validate reports whether the identifier and length fit classic CAN.
func (f Frame) Validate() error {
	if len(f.Data) > MaxDataLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(f.Data))
	}
	limit := uint32(MaxStandardID)
	if f.Extended {
		limit = MaxExtendedID
	}
	if f.ID > limit {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.ID)
	}
	return nil
}

func (f Frame) String() string {
	if f.Extended {
		return fmt.Sprintf("%08X#% X", f.ID, f.Data)
	}
	return fmt.Sprintf("%03X#% X", f.ID, f.Data)
}

// MarshalBinary encodes the frame as a Linux struct can_frame
// (little endian can_id, dlc, 3 pad bytes, 8 data bytes).
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, frameSize)
	id := f.ID
	if f.Extended {
		id |= effFlag
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(f.Data))
	copy(buf[8:], f.Data)
	return buf, nil
}

// UnmarshalBinary decodes a struct can_frame. RTR and error frames are rejected.
func (f *Frame) UnmarshalBinary(buf []byte) error {
	if len(buf) < frameSize {
		return fmt.Errorf("%w: %d bytes", ErrShortFrameData, len(buf))
	}
	raw := binary.LittleEndian.Uint32(buf[0:4])
	if raw&(rtrFlag|errFlag) != 0 {
		return fmt.Errorf("driver: unsupported frame flags 0x%08X", raw)
	}
	dlc := int(buf[4])
	if dlc > MaxDataLength {
		return fmt.Errorf("%w: dlc %d", ErrInvalidLength, dlc)
	}
	f.Extended = raw&effFlag != 0
	if f.Extended {
		f.ID = raw & MaxExtendedID
	} else {
		f.ID = raw & MaxStandardID
	}
	f.Data = make([]byte, dlc)
	copy(f.Data, buf[8:8+dlc])
	return nil
}

// Bus is a raw CAN frame transport. Receive hands each frame to exactly
// one caller; use a Demux to split one bus between address pairs.
type Bus interface {
	Send(frame Frame) error
	// Receive waits up to timeout for the next frame. ok is false when the
	// timeout elapsed without traffic.
	Receive(timeout time.Duration) (frame Frame, ok bool, err error)
	Close() error
}

// TransportError wraps a bus-level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("can %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
