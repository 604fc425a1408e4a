package driver

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const demuxPollInterval = 10 * time.Millisecond

var ErrRouteTaken = errors.New("driver: arbitration id already routed")

// Demux shares one Bus between several address pairs. A single reader
// goroutine drains the bus and hands each frame to the handle registered
// for its arbitration ID; frames nobody registered for are dropped.
type Demux struct {
	bus    Bus
	sendMu sync.Mutex

	mu     sync.Mutex
	routes map[uint32]*DemuxHandle

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	readDone chan struct{}
	readErr  error
}

func NewDemux(bus Bus) *Demux {
	d := &Demux{
		bus:      bus,
		routes:   make(map[uint32]*DemuxHandle),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.readLoop()
	return d
}

func (d *Demux) readLoop() {
	defer d.wg.Done()
	defer close(d.readDone)
	for {
		select {
		case <-d.done:
			return
		default:
		}
		f, ok, err := d.bus.Receive(demuxPollInterval)
		if err != nil {
			d.readErr = err
			return
		}
		if !ok {
			continue
		}
		d.mu.Lock()
		h := d.routes[f.ID]
		d.mu.Unlock()
		if h == nil {
			continue
		}
		select {
		case h.rx <- f:
		default:
			// handle not draining; drop rather than stall the other routes
		}
	}
}

// Handle returns a Bus that receives only frames carrying one of ids.
// Sends go straight to the shared bus.
func (d *Demux) Handle(ids ...uint32) (*DemuxHandle, error) {
	if len(ids) == 0 {
		return nil, errors.New("driver: demux handle needs at least one id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.done:
		return nil, wrapOp("demux", ErrClosed)
	default:
	}
	for _, id := range ids {
		if _, taken := d.routes[id]; taken {
			return nil, fmt.Errorf("%w: 0x%X", ErrRouteTaken, id)
		}
	}
	h := &DemuxHandle{
		demux: d,
		ids:   ids,
		rx:    make(chan Frame, rxChannelBufferSize),
		done:  make(chan struct{}),
	}
	for _, id := range ids {
		d.routes[id] = h
	}
	return h, nil
}

// Close stops the reader, closes every handle and then the shared bus.
func (d *Demux) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
		d.mu.Lock()
		handles := make([]*DemuxHandle, 0, len(d.routes))
		for _, h := range d.routes {
			handles = append(handles, h)
		}
		d.mu.Unlock()
		for _, h := range handles {
			h.Close()
		}
		err = d.bus.Close()
	})
	return err
}

// DemuxHandle is one route of a Demux. It implements Bus.
type DemuxHandle struct {
	demux *Demux
	ids   []uint32
	rx    chan Frame

	done      chan struct{}
	closeOnce sync.Once
}

func (h *DemuxHandle) Send(frame Frame) error {
	select {
	case <-h.done:
		return wrapOp("send", ErrClosed)
	default:
	}
	h.demux.sendMu.Lock()
	defer h.demux.sendMu.Unlock()
	return h.demux.bus.Send(frame)
}

func (h *DemuxHandle) Receive(timeout time.Duration) (Frame, bool, error) {
	select {
	case f := <-h.rx:
		return f, true, nil
	case <-h.done:
		return Frame{}, false, wrapOp("receive", ErrClosed)
	case <-h.demux.readDone:
		return Frame{}, false, h.demux.readFailure()
	default:
	}
	if timeout <= 0 {
		return Frame{}, false, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-h.rx:
		return f, true, nil
	case <-h.done:
		return Frame{}, false, wrapOp("receive", ErrClosed)
	case <-h.demux.readDone:
		return Frame{}, false, h.demux.readFailure()
	case <-timer.C:
		return Frame{}, false, nil
	}
}

// Close releases the handle's ids. The shared bus stays open.
func (h *DemuxHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		h.demux.mu.Lock()
		for _, id := range h.ids {
			if h.demux.routes[id] == h {
				delete(h.demux.routes, id)
			}
		}
		h.demux.mu.Unlock()
	})
	return nil
}

func (d *Demux) readFailure() error {
	if d.readErr == nil {
		return wrapOp("receive", ErrClosed)
	}
	return wrapOp("receive", d.readErr)
}
