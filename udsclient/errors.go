package udsclient

import (
	"errors"
	"fmt"
	"time"
)

// ErrRequestInProgress rejects a request issued while another one is still
// waiting for its response. Nothing is sent on the bus.
var ErrRequestInProgress = errors.New("udsclient: request already in progress")

// NoResponseError means not a single frame of a response arrived in time.
type NoResponseError struct {
	ServiceID byte
	Wait      time.Duration
	Err       error
}

func (e *NoResponseError) Error() string {
	return fmt.Sprintf("no response to SID 0x%02X within %v", e.ServiceID, e.Wait)
}

func (e *NoResponseError) Unwrap() error { return e.Err }

func (e *NoResponseError) Timeout() bool { return true }

// ResponsePendingTimeoutError means the ECU kept answering NRC 0x78 for
// longer than the configured pending timeout.
type ResponsePendingTimeoutError struct {
	ServiceID byte
	Wait      time.Duration
	Pending   int
}

func (e *ResponsePendingTimeoutError) Error() string {
	return fmt.Sprintf("SID 0x%02X still pending after %v (%d pending replies)", e.ServiceID, e.Wait, e.Pending)
}

func (e *ResponsePendingTimeoutError) Timeout() bool { return true }
