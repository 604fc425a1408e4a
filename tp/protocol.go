package tp

import (
	"fmt"
	"time"
)

// Classic CAN payload capacities per frame type.
const (
	MaxSingleFrameData   = 7
	FirstFrameData       = 6
	ConsecutiveFrameData = 7
	MaxPayloadLength     = 0xFFF
	canFrameLength       = 8
)

type PDUType uint8

const (
	PDUSingleFrame PDUType = iota
	PDUFirstFrame
	PDUConsecutiveFrame
	PDUFlowControl
)

func (t PDUType) String() string {
	switch t {
	case PDUSingleFrame:
		return "SINGLE_FRAME"
	case PDUFirstFrame:
		return "FIRST_FRAME"
	case PDUConsecutiveFrame:
		return "CONSECUTIVE_FRAME"
	case PDUFlowControl:
		return "FLOW_CONTROL"
	default:
		return "[None]"
	}
}

type FlowStatus uint8

const (
	FlowStatusContinueToSend FlowStatus = iota
	FlowStatusWait
	FlowStatusOverflow
)

func (s FlowStatus) String() string {
	switch s {
	case FlowStatusContinueToSend:
		return "CTS"
	case FlowStatusWait:
		return "WAIT"
	case FlowStatusOverflow:
		return "OVERFLOW"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// PDU is one ISO-TP protocol data unit. Which fields are meaningful
// depends on Type: Length and Data for single/first frames, SeqNum and
// Data for consecutive frames, FlowStatus/BlockSize/StMin for flow control.
type PDU struct {
	Type       PDUType
	Length     int
	Data       []byte
	SeqNum     uint8
	FlowStatus FlowStatus
	BlockSize  uint8
	StMin      uint8
}

// ParsePDU decodes the data bytes of one CAN frame. CAN FD escape
// sequences are rejected.
func ParsePDU(data []byte) (PDU, error) {
	if len(data) == 0 {
		return PDU{}, InvalidCanDataError{NewIsoTpError("empty CAN frame")}
	}
	p := PDU{Type: PDUType(data[0] >> 4)}

	switch p.Type {
	case PDUSingleFrame:
		length := int(data[0] & 0x0F)
		if length == 0 {
			return PDU{}, InvalidCanDataError{NewIsoTpError("single frame escape sequence is not supported on classic CAN")}
		}
		if length > len(data)-1 {
			return PDU{}, InvalidCanDataError{NewIsoTpError(fmt.Sprintf("single frame length %d exceeds payload %d", length, len(data)-1))}
		}
		p.Length = length
		p.Data = data[1 : 1+length]

	case PDUFirstFrame:
		if len(data) < 2 {
			return PDU{}, InvalidCanDataError{NewIsoTpError("first frame must be at least 2 bytes")}
		}
		length := int(data[0]&0x0F)<<8 | int(data[1])
		if length == 0 {
			return PDU{}, InvalidCanDataError{NewIsoTpError("first frame escape sequence is not supported on classic CAN")}
		}
		if length <= MaxSingleFrameData {
			return PDU{}, InvalidCanDataError{NewIsoTpError(fmt.Sprintf("first frame length %d fits in a single frame", length))}
		}
		p.Length = length
		p.Data = data[2:minInt(len(data), 2+length)]

	case PDUConsecutiveFrame:
		p.SeqNum = data[0] & 0x0F
		p.Data = data[1:]

	case PDUFlowControl:
		if len(data) < 3 {
			return PDU{}, InvalidCanDataError{NewIsoTpError("flow control frame must be at least 3 bytes")}
		}
		fs := FlowStatus(data[0] & 0x0F)
		if fs > FlowStatusOverflow {
			return PDU{}, InvalidCanDataError{NewIsoTpError(fmt.Sprintf("unknown flow status %d", fs))}
		}
		p.FlowStatus = fs
		p.BlockSize = data[1]
		p.StMin = data[2]

	default:
		return PDU{}, InvalidCanDataError{NewIsoTpError(fmt.Sprintf("received message with unknown frame type %d", p.Type))}
	}
	return p, nil
}

// Encode renders the PDU as CAN frame data, padded to 8 bytes when
// padding is set.
func (p PDU) Encode(padding *byte) []byte {
	var out []byte
	switch p.Type {
	case PDUSingleFrame:
		out = append([]byte{byte(len(p.Data) & 0x0F)}, p.Data...)
	case PDUFirstFrame:
		out = append([]byte{0x10 | byte(p.Length>>8&0x0F), byte(p.Length)}, p.Data...)
	case PDUConsecutiveFrame:
		out = append([]byte{0x20 | p.SeqNum&0x0F}, p.Data...)
	case PDUFlowControl:
		out = CraftFlowControlData(p.FlowStatus, p.BlockSize, p.StMin)
	}
	if padding != nil {
		for len(out) < canFrameLength {
			out = append(out, *padding)
		}
	}
	return out
}

func CraftFlowControlData(flowStatus FlowStatus, blockSize, stMin uint8) []byte {
	return []byte{0x30 | byte(flowStatus)&0x0F, blockSize, stMin}
}

// NewFlowControl builds a flow control PDU.
func NewFlowControl(status FlowStatus, blockSize, stMin uint8) PDU {
	return PDU{Type: PDUFlowControl, FlowStatus: status, BlockSize: blockSize, StMin: stMin}
}

// Segment splits a payload into a single frame, or a first frame followed
// by consecutive frames numbered 1..15, 0, 1...
func Segment(payload []byte) ([]PDU, error) {
	n := len(payload)
	if n == 0 {
		return nil, EmptyPayloadError{}
	}
	if n > MaxPayloadLength {
		return nil, FrameTooLongError{NewIsoTpError(fmt.Sprintf("payload of %d bytes exceeds %d", n, MaxPayloadLength))}
	}
	if n <= MaxSingleFrameData {
		return []PDU{{Type: PDUSingleFrame, Length: n, Data: payload}}, nil
	}

	pdus := make([]PDU, 0, 1+(n-FirstFrameData+ConsecutiveFrameData-1)/ConsecutiveFrameData)
	pdus = append(pdus, PDU{Type: PDUFirstFrame, Length: n, Data: payload[:FirstFrameData]})
	seq := uint8(1)
	for off := FirstFrameData; off < n; off += ConsecutiveFrameData {
		end := minInt(off+ConsecutiveFrameData, n)
		pdus = append(pdus, PDU{Type: PDUConsecutiveFrame, SeqNum: seq, Data: payload[off:end]})
		seq = (seq + 1) & 0x0F
	}
	return pdus, nil
}

// Reassembler collects the consecutive frames following a first frame.
type Reassembler struct {
	expected int
	buf      []byte
	nextSeq  uint8
}

func NewReassembler(first PDU) (*Reassembler, error) {
	if first.Type != PDUFirstFrame {
		return nil, InvalidCanDataError{NewIsoTpError(fmt.Sprintf("reassembly must start with a first frame, got %v", first.Type))}
	}
	r := &Reassembler{
		expected: first.Length,
		buf:      make([]byte, 0, first.Length),
		nextSeq:  1,
	}
	r.buf = append(r.buf, first.Data[:minInt(len(first.Data), first.Length)]...)
	return r, nil
}

// Feed appends one consecutive frame and reports whether the payload is
// complete. Padding beyond the announced length is dropped.
func (r *Reassembler) Feed(cf PDU) (bool, error) {
	if cf.Type != PDUConsecutiveFrame {
		return false, InvalidCanDataError{NewIsoTpError(fmt.Sprintf("expected consecutive frame, got %v", cf.Type))}
	}
	if r.Complete() {
		return true, InvalidCanDataError{NewIsoTpError("consecutive frame after transfer completed")}
	}
	if cf.SeqNum != r.nextSeq {
		return false, SequenceError{Expected: r.nextSeq, Got: cf.SeqNum}
	}
	remaining := r.expected - len(r.buf)
	r.buf = append(r.buf, cf.Data[:minInt(len(cf.Data), remaining)]...)
	r.nextSeq = (r.nextSeq + 1) & 0x0F
	return r.Complete(), nil
}

func (r *Reassembler) Complete() bool { return len(r.buf) >= r.expected }

func (r *Reassembler) Expected() int { return r.expected }

func (r *Reassembler) Received() int { return len(r.buf) }

// Payload returns the bytes collected so far.
func (r *Reassembler) Payload() []byte { return r.buf }

// Reassemble rebuilds a payload from a complete PDU sequence.
func Reassemble(pdus []PDU) ([]byte, error) {
	if len(pdus) == 0 {
		return nil, IncompleteTransferError{}
	}
	first := pdus[0]
	if first.Type == PDUSingleFrame {
		if len(pdus) > 1 {
			return nil, InvalidCanDataError{NewIsoTpError("frames after a single frame")}
		}
		return first.Data, nil
	}
	r, err := NewReassembler(first)
	if err != nil {
		return nil, err
	}
	for _, cf := range pdus[1:] {
		if _, err := r.Feed(cf); err != nil {
			return nil, err
		}
	}
	if !r.Complete() {
		return nil, IncompleteTransferError{Expected: r.Expected(), Received: r.Received()}
	}
	return r.Payload(), nil
}

// StMinDuration converts a separation time byte. Reserved values map to
// the 127 ms maximum.
func StMinDuration(stMin uint8) time.Duration {
	switch {
	case stMin <= 0x7F:
		return time.Duration(stMin) * time.Millisecond
	case stMin >= 0xF1 && stMin <= 0xF9:
		return time.Duration(stMin-0xF0) * 100 * time.Microsecond
	default:
		return 0x7F * time.Millisecond
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
