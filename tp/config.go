package tp

import (
	"errors"
	"fmt"
	"time"
)

// Config defines the configuration for the ISO-TP Transport.
type Config struct {
	// PaddingByte, if not nil, is used to pad every frame to 8 bytes.
	PaddingByte *byte

	// Transmitter side: time until reception of FlowControl.
	TimeoutN_Bs time.Duration

	// Receiver side: time until reception of the next CF.
	TimeoutN_Cr time.Duration

	// Flow Control parameters sent to the peer when receiving.
	BlockSize int
	StMin     int

	// MaxWaitFrame (WFTMax) is the number of consecutive Wait flow control
	// frames accepted before a transfer is aborted. 0 rejects Wait frames.
	MaxWaitFrame int

	// MaxFrameSize caps the length accepted from a First Frame.
	MaxFrameSize int
}

// DefaultConfig returns ISO-15765-2 timing with zero padding to 8 bytes.
func DefaultConfig() Config {
	padding := byte(0x00)
	return Config{
		PaddingByte: &padding,

		TimeoutN_Bs: 1000 * time.Millisecond,
		TimeoutN_Cr: 1000 * time.Millisecond,

		BlockSize: 0, // BlockSize 0 means unlimited
		StMin:     0,

		MaxWaitFrame: 10,
		MaxFrameSize: MaxPayloadLength,
	}
}

// Validate checks if the configuration parameters are valid.
func (c *Config) Validate() error {
	var errs []error
	if c.TimeoutN_Bs <= 0 {
		errs = append(errs, fmt.Errorf("TimeoutN_Bs must be positive, got %v", c.TimeoutN_Bs))
	}
	if c.TimeoutN_Cr <= 0 {
		errs = append(errs, fmt.Errorf("TimeoutN_Cr must be positive, got %v", c.TimeoutN_Cr))
	}
	if c.BlockSize < 0 || c.BlockSize > 0xFF {
		errs = append(errs, fmt.Errorf("BlockSize must be within 0..255, got %d", c.BlockSize))
	}
	if !validStMin(c.StMin) {
		errs = append(errs, fmt.Errorf("StMin must be 0x00..0x7F or 0xF1..0xF9, got 0x%X", c.StMin))
	}
	if c.MaxWaitFrame < 0 {
		errs = append(errs, fmt.Errorf("MaxWaitFrame must not be negative, got %d", c.MaxWaitFrame))
	}
	if c.MaxFrameSize < 8 || c.MaxFrameSize > MaxPayloadLength {
		errs = append(errs, fmt.Errorf("MaxFrameSize must be within 8..%d, got %d", MaxPayloadLength, c.MaxFrameSize))
	}
	return errors.Join(errs...)
}

func validStMin(v int) bool {
	return (v >= 0 && v <= 0x7F) || (v >= 0xF1 && v <= 0xF9)
}
