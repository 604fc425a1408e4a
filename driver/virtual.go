package driver

import (
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

const (
	rxChannelBufferSize = 1024
	processInterval     = time.Millisecond
)

// WriteRecord is one frame sent through a VirtualBus.
type WriteRecord struct {
	Frame     Frame
	Timestamp time.Time
}

// VirtualPair is two CAN endpoints connected through an in-memory bridge.
// Frames sent on one endpoint are received on the other.
type VirtualPair struct {
	bridge *test.Bridge
	local  *VirtualBus
	remote *VirtualBus

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewVirtualPair creates a connected pair and starts delivering frames.
func NewVirtualPair() *VirtualPair {
	br := test.NewBridge()
	p := &VirtualPair{
		bridge: br,
		local:  newVirtualBus(br.GetConn0()),
		remote: newVirtualBus(br.GetConn1()),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(processInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				for p.bridge.Tick() > 0 {
				}
			}
		}
	}()
	return p
}

// Local is the tester side endpoint.
func (p *VirtualPair) Local() *VirtualBus { return p.local }

// Remote is the ECU side endpoint.
func (p *VirtualPair) Remote() *VirtualBus { return p.remote }

// Close stops delivery and closes both endpoints.
func (p *VirtualPair) Close() error {
	p.closeOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
	err := p.local.Close()
	if rerr := p.remote.Close(); err == nil {
		err = rerr
	}
	return err
}

// VirtualBus is one endpoint of a VirtualPair. It implements Bus.
type VirtualBus struct {
	conn net.Conn
	rx   chan Frame

	sendMu  sync.Mutex
	history []WriteRecord

	done      chan struct{}
	closeOnce sync.Once

	readDone chan struct{}
	readErr  error
}

func newVirtualBus(conn net.Conn) *VirtualBus {
	b := &VirtualBus{
		conn:     conn,
		rx:       make(chan Frame, rxChannelBufferSize),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go b.readLoop()
	return b
}

func (b *VirtualBus) readLoop() {
	defer close(b.readDone)
	buf := make([]byte, 64)
	for {
		n, err := b.conn.Read(buf)
		if err != nil {
			b.readErr = err
			return
		}
		var f Frame
		if err := f.UnmarshalBinary(buf[:n]); err != nil {
			continue
		}
		select {
		case b.rx <- f:
		case <-b.done:
			return
		}
	}
}

// Send writes a frame to the peer endpoint.
func (b *VirtualBus) Send(frame Frame) error {
	data, err := frame.MarshalBinary()
	if err != nil {
		return wrapOp("send", err)
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	select {
	case <-b.done:
		return wrapOp("send", ErrClosed)
	default:
	}
	if _, err := b.conn.Write(data); err != nil {
		return wrapOp("send", err)
	}
	rec := Frame{ID: frame.ID, Extended: frame.Extended, Data: append([]byte(nil), frame.Data...)}
	b.history = append(b.history, WriteRecord{Frame: rec, Timestamp: time.Now()})
	return nil
}

// Receive waits up to timeout for the next frame from the peer.
func (b *VirtualBus) Receive(timeout time.Duration) (Frame, bool, error) {
	select {
	case f := <-b.rx:
		return f, true, nil
	case <-b.done:
		return Frame{}, false, wrapOp("receive", ErrClosed)
	default:
	}
	if timeout <= 0 {
		return Frame{}, false, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-b.rx:
		return f, true, nil
	case <-b.done:
		return Frame{}, false, wrapOp("receive", ErrClosed)
	case <-b.readDone:
		return Frame{}, false, wrapOp("receive", b.readErr)
	case <-timer.C:
		return Frame{}, false, nil
	}
}

// History returns a copy of every frame sent so far.
func (b *VirtualBus) History() []WriteRecord {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	out := make([]WriteRecord, len(b.history))
	copy(out, b.history)
	return out
}

// Close closes this endpoint only.
func (b *VirtualBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.conn.Close()
	})
	return err
}
