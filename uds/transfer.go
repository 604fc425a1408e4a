package uds

import (
	"fmt"
)

const (
	// addressAndLengthFormat 0x44: 4-byte memory address, 4-byte memory size.
	addressAndLengthFormat byte = 0x44
	// dataFormatPlain means no compression and no encryption.
	dataFormatPlain byte = 0x00
)

func RequestDownload(address, size uint32) Request {
	return NewRequest(SIDRequestDownload,
		dataFormatPlain, addressAndLengthFormat,
		byte(address>>24), byte(address>>16), byte(address>>8), byte(address),
		byte(size>>24), byte(size>>16), byte(size>>8), byte(size))
}

// ParseRequestDownload returns maxNumberOfBlockLength, the largest
// TransferData request (SID and counter included) the ECU accepts.
func ParseRequestDownload(resp Response) (int, error) {
	data, err := positiveData(resp, SIDRequestDownload, 1)
	if err != nil {
		return 0, err
	}
	n := int(data[0] >> 4)
	if n == 0 || n > 4 {
		return 0, fmt.Errorf("unsupported lengthFormatIdentifier 0x%02X", data[0])
	}
	if len(data) < 1+n {
		return 0, &ShortResponseError{ServiceID: SIDRequestDownload, Need: 2 + n, Got: len(data) + 1}
	}
	maxLen := 0
	for _, b := range data[1 : 1+n] {
		maxLen = maxLen<<8 | int(b)
	}
	if maxLen < 3 {
		return 0, fmt.Errorf("maxNumberOfBlockLength %d leaves no room for data", maxLen)
	}
	return maxLen, nil
}

func TransferData(counter byte, block []byte) Request {
	return NewRequest(SIDTransferData, append([]byte{counter}, block...)...)
}

func ParseTransferData(resp Response, counter byte) error {
	data, err := positiveData(resp, SIDTransferData, 1)
	if err != nil {
		return err
	}
	if data[0] != counter {
		return &EchoMismatchError{ServiceID: SIDTransferData, Field: "block sequence counter", Expected: uint32(counter), Got: uint32(data[0])}
	}
	return nil
}

func RequestTransferExit() Request {
	return NewRequest(SIDRequestTransferExit)
}

func ParseRequestTransferExit(resp Response) error {
	_, err := positiveData(resp, SIDRequestTransferExit, 0)
	return err
}
