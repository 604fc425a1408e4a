// Package uds encodes UDS (ISO 14229) requests and decodes responses.
package uds

import (
	"fmt"
)

// Service identifiers used by the tester.
const (
	SIDDiagnosticSessionControl   byte = 0x10
	SIDECUReset                   byte = 0x11
	SIDClearDiagnosticInformation byte = 0x14
	SIDReadDTCInformation         byte = 0x19
	SIDReadDataByIdentifier       byte = 0x22
	SIDSecurityAccess             byte = 0x27
	SIDWriteDataByIdentifier      byte = 0x2E
	SIDRoutineControl             byte = 0x31
	SIDRequestDownload            byte = 0x34
	SIDTransferData               byte = 0x36
	SIDRequestTransferExit        byte = 0x37

	NegativeResponseSID    byte = 0x7F
	PositiveResponseOffset byte = 0x40
)

// Request is one UDS service request.
type Request struct {
	ServiceID      byte
	SubFunction    byte
	HasSubFunction bool
	Data           []byte
}

func NewRequest(sid byte, data ...byte) Request {
	return Request{ServiceID: sid, Data: data}
}

func NewSubFunctionRequest(sid, subFunction byte, data ...byte) Request {
	return Request{ServiceID: sid, SubFunction: subFunction, HasSubFunction: true, Data: data}
}

// Encode lays out service id, sub-function and parameters without padding.
func Encode(req Request) []byte {
	out := make([]byte, 0, 2+len(req.Data))
	out = append(out, req.ServiceID)
	if req.HasSubFunction {
		out = append(out, req.SubFunction)
	}
	return append(out, req.Data...)
}

func (r Request) String() string {
	return fmt.Sprintf("% X", Encode(r))
}

// Response is a decoded UDS response. For positive responses ServiceID is
// the response SID and Data holds everything after it. For negative
// responses ServiceID is the rejected request SID.
type Response struct {
	ServiceID byte
	Data      []byte
	Negative  bool
	NRC       byte
}

// Err converts a negative response to *NegativeResponseError.
func (r Response) Err() error {
	if !r.Negative {
		return nil
	}
	return &NegativeResponseError{ServiceID: r.ServiceID, NRC: r.NRC}
}

// IsResponsePending reports NRC 0x78.
func (r Response) IsResponsePending() bool {
	return r.Negative && r.NRC == NRCResponsePending
}

// Decode parses raw as the answer to a request with service id requestSID.
func Decode(requestSID byte, raw []byte) (Response, error) {
	if len(raw) == 0 {
		return Response{}, &ShortResponseError{ServiceID: requestSID, Need: 1, Got: 0}
	}
	if raw[0] == NegativeResponseSID {
		if len(raw) < 3 {
			return Response{}, &ShortResponseError{ServiceID: requestSID, Need: 3, Got: len(raw)}
		}
		if raw[1] != requestSID {
			return Response{}, &UnexpectedServiceIDError{Expected: requestSID, Got: raw[1], Negative: true}
		}
		return Response{ServiceID: raw[1], Negative: true, NRC: raw[2]}, nil
	}
	if want := requestSID + PositiveResponseOffset; raw[0] != want {
		return Response{}, &UnexpectedServiceIDError{Expected: want, Got: raw[0]}
	}
	return Response{ServiceID: raw[0], Data: append([]byte(nil), raw[1:]...)}, nil
}

// positiveData returns resp.Data after checking polarity and minimum length.
func positiveData(resp Response, requestSID byte, minLen int) ([]byte, error) {
	if resp.Negative {
		return nil, resp.Err()
	}
	if resp.ServiceID != requestSID+PositiveResponseOffset {
		return nil, &UnexpectedServiceIDError{Expected: requestSID + PositiveResponseOffset, Got: resp.ServiceID}
	}
	if len(resp.Data) < minLen {
		return nil, &ShortResponseError{ServiceID: requestSID, Need: minLen + 1, Got: len(resp.Data) + 1}
	}
	return resp.Data, nil
}
