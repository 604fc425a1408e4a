package uds

import "fmt"

// NegativeResponseError carries the raw NRC of a rejected request.
type NegativeResponseError struct {
	ServiceID byte
	NRC       byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("negative response: SID=0x%02X, NRC=0x%02X (%s)", e.ServiceID, e.NRC, NRCDescription(e.NRC))
}

// IsRetryable reports whether repeating the request may succeed.
func (e *NegativeResponseError) IsRetryable() bool {
	switch e.NRC {
	case NRCBusyRepeatRequest, NRCResponsePending:
		return true
	default:
		return false
	}
}

type UnexpectedServiceIDError struct {
	Expected byte
	Got      byte
	Negative bool
}

func (e *UnexpectedServiceIDError) Error() string {
	if e.Negative {
		return fmt.Sprintf("negative response for SID 0x%02X, expected 0x%02X", e.Got, e.Expected)
	}
	return fmt.Sprintf("unexpected response SID 0x%02X, expected 0x%02X", e.Got, e.Expected)
}

// ShortResponseError is returned before any field is read from a response
// that is shorter than its service layout requires.
type ShortResponseError struct {
	ServiceID byte
	Need      int
	Got       int
}

func (e *ShortResponseError) Error() string {
	return fmt.Sprintf("short response to SID 0x%02X: need %d bytes, got %d", e.ServiceID, e.Need, e.Got)
}

// EchoMismatchError is returned when a positive response echoes a
// different sub-function or identifier than the request carried.
type EchoMismatchError struct {
	ServiceID byte
	Field     string
	Expected  uint32
	Got       uint32
}

func (e *EchoMismatchError) Error() string {
	return fmt.Sprintf("response to SID 0x%02X echoes %s 0x%X, expected 0x%X", e.ServiceID, e.Field, e.Got, e.Expected)
}

// RecordLengthError is returned when a list of fixed-size records ends
// in the middle of a record.
type RecordLengthError struct {
	ServiceID  byte
	RecordSize int
	Got        int
}

func (e *RecordLengthError) Error() string {
	return fmt.Sprintf("response to SID 0x%02X: %d record bytes is not a multiple of %d", e.ServiceID, e.Got, e.RecordSize)
}
