// Package capture records CAN traffic to pcap files readable by Wireshark.
package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/LoveWonYoung/udsdiag/driver"
)

// LinkTypeCANSocketCAN is LINKTYPE_CAN_SOCKETCAN.
const LinkTypeCANSocketCAN layers.LinkType = 227

const (
	snapLen    = 65535
	headerSize = 8
	effFlag    = 0x80000000
)

// RecordingBus forwards to an inner bus and writes every frame sent or
// received to a pcap stream.
type RecordingBus struct {
	inner driver.Bus

	mu     sync.Mutex
	writer *pcapgo.Writer
	closer io.Closer
	count  int
	now    func() time.Time
}

// NewRecordingBus writes the pcap file header to w and wraps inner.
// If w is an io.Closer it is closed together with the bus.
func NewRecordingBus(inner driver.Bus, w io.Writer) (*RecordingBus, error) {
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(snapLen, LinkTypeCANSocketCAN); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	rb := &RecordingBus{inner: inner, writer: writer, now: time.Now}
	if c, ok := w.(io.Closer); ok {
		rb.closer = c
	}
	return rb, nil
}

// CreateFile opens path for writing and records inner into it.
func CreateFile(inner driver.Bus, path string) (*RecordingBus, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	rb, err := NewRecordingBus(inner, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return rb, nil
}

// Encode renders a frame in the LINKTYPE_CAN_SOCKETCAN layout, which
// carries the identifier in network byte order.
func Encode(f driver.Frame) []byte {
	buf := make([]byte, headerSize+len(f.Data))
	id := f.ID
	if f.Extended {
		id |= effFlag
	}
	binary.BigEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(f.Data))
	copy(buf[headerSize:], f.Data)
	return buf
}

func (r *RecordingBus) record(f driver.Frame) error {
	data := Encode(f)
	r.mu.Lock()
	defer r.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     r.now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := r.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write pcap packet: %w", err)
	}
	r.count++
	return nil
}

// Send forwards the frame and records it once the inner bus accepted it.
func (r *RecordingBus) Send(f driver.Frame) error {
	if err := r.inner.Send(f); err != nil {
		return err
	}
	return r.record(f)
}

func (r *RecordingBus) Receive(timeout time.Duration) (driver.Frame, bool, error) {
	f, ok, err := r.inner.Receive(timeout)
	if err != nil || !ok {
		return f, ok, err
	}
	if err := r.record(f); err != nil {
		return f, true, err
	}
	return f, true, nil
}

// Packets returns how many frames were written.
func (r *RecordingBus) Packets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *RecordingBus) Close() error {
	err := r.inner.Close()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
