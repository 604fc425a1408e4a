//go:build linux

package driver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// SocketCAN is a raw CAN_RAW socket bound to one Linux CAN interface.
type SocketCAN struct {
	fd     int
	ifname string

	sendMu sync.Mutex
	recvMu sync.Mutex

	closeMu sync.RWMutex
	closed  bool
}

// Filter is a kernel receive filter; a frame passes when
// received_id & Mask == ID & Mask.
type Filter struct {
	ID       uint32
	Mask     uint32
	Extended bool
}

// ExactFilter matches a single arbitration id.
func ExactFilter(id uint32, extended bool) Filter {
	if extended {
		return Filter{ID: id, Mask: MaxExtendedID, Extended: true}
	}
	return Filter{ID: id, Mask: MaxStandardID}
}

// OpenSocketCAN opens ifname (for example "can0" or "vcan0"). With filters
// set, the kernel only delivers matching frames.
func OpenSocketCAN(ifname string, filters ...Filter) (*SocketCAN, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, wrapOp("open", fmt.Errorf("create socket: %w", err))
	}

	ifreq, err := unix.NewIfreq(ifname)
	if err != nil {
		unix.Close(fd)
		return nil, wrapOp("open", fmt.Errorf("ifreq %s: %w", ifname, err))
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(fd)
		return nil, wrapOp("open", fmt.Errorf("interface index %s: %w", ifname, err))
	}

	if len(filters) > 0 {
		kf := make([]unix.CanFilter, 0, len(filters))
		for _, f := range filters {
			id, mask := f.ID, f.Mask
			if f.Extended {
				id |= unix.CAN_EFF_FLAG
				mask |= unix.CAN_EFF_FLAG
			} else {
				mask |= unix.CAN_EFF_FLAG
			}
			kf = append(kf, unix.CanFilter{Id: id, Mask: mask})
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, kf); err != nil {
			unix.Close(fd)
			return nil, wrapOp("open", fmt.Errorf("set filter: %w", err))
		}
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}); err != nil {
		unix.Close(fd)
		return nil, wrapOp("open", fmt.Errorf("bind %s: %w", ifname, err))
	}
	return &SocketCAN{fd: fd, ifname: ifname}, nil
}

// Interface returns the bound interface name.
func (s *SocketCAN) Interface() string { return s.ifname }

func (s *SocketCAN) Send(frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return wrapOp("send", err)
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return wrapOp("send", ErrClosed)
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	n, err := unix.Write(s.fd, buf)
	if err != nil {
		return wrapOp("send", err)
	}
	if n != len(buf) {
		return wrapOp("send", fmt.Errorf("short write %d/%d", n, len(buf)))
	}
	return nil
}

func (s *SocketCAN) Receive(timeout time.Duration) (Frame, bool, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return Frame{}, false, wrapOp("receive", ErrClosed)
	}
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	deadline := time.Now().Add(timeout)
	buf := make([]byte, frameSize)
	for {
		ms := int(time.Until(deadline) / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, ms)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return Frame{}, false, wrapOp("receive", err)
		}
		if n == 0 {
			return Frame{}, false, nil
		}
		rn, err := unix.Read(s.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return Frame{}, false, wrapOp("receive", err)
		}
		var f Frame
		if err := f.UnmarshalBinary(buf[:rn]); err != nil {
			// error and remote frames never carry ISO-TP data
			continue
		}
		return f, true, nil
	}
}

func (s *SocketCAN) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
