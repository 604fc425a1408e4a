package tp

import "fmt"

// messageOrDefault returns msg if present, otherwise fallback.
func messageOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

type IsoTpError struct {
	msg string
}

func NewIsoTpError(msg string) IsoTpError {
	return IsoTpError{msg: msg}
}

func (e IsoTpError) Error() string {
	return messageOrDefault(e.msg, "ISO-TP error")
}

// TransportTimeoutError is returned when the peer did not answer a First
// Frame (or a completed block) with a Flow Control frame within N_Bs.
type TransportTimeoutError struct {
	IsoTpError
}

func (e TransportTimeoutError) Error() string {
	return messageOrDefault(e.msg, "flow control frame not received in time")
}

func (e TransportTimeoutError) Timeout() bool { return true }

// ReceiveTimeoutError means no Single or First Frame arrived at all.
type ReceiveTimeoutError struct {
	IsoTpError
}

func (e ReceiveTimeoutError) Error() string {
	return messageOrDefault(e.msg, "no frame received before timeout")
}

func (e ReceiveTimeoutError) Timeout() bool { return true }

type SequenceError struct {
	IsoTpError
	Expected uint8
	Got      uint8
}

func (e SequenceError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("wrong sequence number in consecutive frame: expected %d, got %d", e.Expected, e.Got)
}

// IncompleteTransferError means consecutive frames stopped before the
// length announced by the First Frame was reached.
type IncompleteTransferError struct {
	IsoTpError
	Expected int
	Received int
}

func (e IncompleteTransferError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("incomplete transfer: received %d of %d bytes", e.Received, e.Expected)
}

type InvalidCanDataError struct {
	IsoTpError
}

func (e InvalidCanDataError) Error() string {
	return messageOrDefault(e.msg, "invalid CAN data received")
}

type EmptyPayloadError struct {
	IsoTpError
}

func (e EmptyPayloadError) Error() string {
	return messageOrDefault(e.msg, "payload must not be empty")
}

type UnsupportedWaitFrameError struct {
	IsoTpError
}

func (e UnsupportedWaitFrameError) Error() string {
	return messageOrDefault(e.msg, "wait flow control frame not supported")
}

type MaximumWaitFrameReachedError struct {
	IsoTpError
}

func (e MaximumWaitFrameReachedError) Error() string {
	return messageOrDefault(e.msg, "maximum wait flow control frames reached")
}

type FrameTooLongError struct {
	IsoTpError
}

func (e FrameTooLongError) Error() string {
	return messageOrDefault(e.msg, "payload length exceeds maximum frame size")
}

type OverflowError struct {
	IsoTpError
}

func (e OverflowError) Error() string {
	return messageOrDefault(e.msg, "remote node reported overflow")
}
