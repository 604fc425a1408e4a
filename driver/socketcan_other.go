//go:build !linux

package driver

import (
	"errors"
	"time"
)

var errSocketCANUnsupported = errors.New("socketcan is only available on linux")

type SocketCAN struct{}

type Filter struct {
	ID       uint32
	Mask     uint32
	Extended bool
}

func ExactFilter(id uint32, extended bool) Filter {
	if extended {
		return Filter{ID: id, Mask: MaxExtendedID, Extended: true}
	}
	return Filter{ID: id, Mask: MaxStandardID}
}

func OpenSocketCAN(ifname string, filters ...Filter) (*SocketCAN, error) {
	return nil, wrapOp("open", errSocketCANUnsupported)
}

func (s *SocketCAN) Interface() string { return "" }

func (s *SocketCAN) Send(Frame) error { return wrapOp("send", errSocketCANUnsupported) }

func (s *SocketCAN) Receive(time.Duration) (Frame, bool, error) {
	return Frame{}, false, wrapOp("receive", errSocketCANUnsupported)
}

func (s *SocketCAN) Close() error { return nil }
