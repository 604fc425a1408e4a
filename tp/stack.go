package tp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/LoveWonYoung/udsdiag/driver"
)

// Transport runs ISO-TP over one bus for one address pair. Send and
// Receive block the caller until the transfer finished or failed; the
// owner must not call them concurrently.
//
// Frames for other identifiers are read and discarded, so a bus handle
// must serve a single Transport. Give each address pair its own
// driver.Demux handle when several sessions share one interface.
type Transport struct {
	bus     driver.Bus
	address *Address
	config  Config
	log     logging.LeveledLogger
}

func NewTransport(bus driver.Bus, address *Address, cfg Config, loggerFactory logging.LoggerFactory) (*Transport, error) {
	if bus == nil {
		return nil, errors.New("isotp: bus is required")
	}
	if address == nil {
		return nil, errors.New("isotp: address is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("isotp: invalid config: %w", err)
	}
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Transport{
		bus:     bus,
		address: address,
		config:  cfg,
		log:     loggerFactory.NewLogger("isotp"),
	}, nil
}

func (t *Transport) Address() *Address { return t.address }

func (t *Transport) Config() Config { return t.config }

// Send transmits payload, waiting for flow control between blocks.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	pdus, err := Segment(payload)
	if err != nil {
		return err
	}
	if err := t.sendPDU(pdus[0]); err != nil {
		return err
	}
	if len(pdus) == 1 {
		return nil
	}
	t.log.Debugf("first frame sent on 0x%X: %d bytes, %d consecutive frames", t.address.TxID, len(payload), len(pdus)-1)

	fc, err := t.awaitFlowControl(ctx)
	if err != nil {
		return err
	}
	blockSize, separation := int(fc.BlockSize), StMinDuration(fc.StMin)
	inBlock := 0
	cfs := pdus[1:]
	for i, cf := range cfs {
		if i > 0 {
			if err := sleepContext(ctx, separation); err != nil {
				return err
			}
		}
		if err := t.sendPDU(cf); err != nil {
			return err
		}
		inBlock++
		if blockSize > 0 && inBlock == blockSize && i < len(cfs)-1 {
			if fc, err = t.awaitFlowControl(ctx); err != nil {
				return err
			}
			blockSize, separation = int(fc.BlockSize), StMinDuration(fc.StMin)
			inBlock = 0
		}
	}
	return nil
}

func (t *Transport) awaitFlowControl(ctx context.Context) (PDU, error) {
	timer := NewTimer(t.config.TimeoutN_Bs)
	timer.Start()
	waits := 0
	for {
		f, ok, err := t.receiveFrame(ctx, timer)
		if err != nil {
			return PDU{}, err
		}
		if !ok {
			return PDU{}, TransportTimeoutError{NewIsoTpError(fmt.Sprintf("no flow control from 0x%X within %v", t.address.RxID, t.config.TimeoutN_Bs))}
		}
		pdu, err := ParsePDU(f.Data)
		if err != nil {
			return PDU{}, err
		}
		if pdu.Type != PDUFlowControl {
			t.log.Debugf("ignoring %v while waiting for flow control", pdu.Type)
			continue
		}
		switch pdu.FlowStatus {
		case FlowStatusContinueToSend:
			return pdu, nil
		case FlowStatusWait:
			if t.config.MaxWaitFrame == 0 {
				return PDU{}, UnsupportedWaitFrameError{}
			}
			waits++
			if waits > t.config.MaxWaitFrame {
				return PDU{}, MaximumWaitFrameReachedError{}
			}
			timer.Start()
		default:
			return PDU{}, OverflowError{}
		}
	}
}

// Receive waits up to timeout for the start of a message and then
// reassembles it. Once a first frame arrived the N_Cr timeout applies to
// every consecutive frame instead.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := NewTimer(timeout)
	timer.Start()
	for {
		f, ok, err := t.receiveFrame(ctx, timer)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ReceiveTimeoutError{NewIsoTpError(fmt.Sprintf("no frame from 0x%X within %v", t.address.RxID, timeout))}
		}
		pdu, err := ParsePDU(f.Data)
		if err != nil {
			return nil, err
		}
		switch pdu.Type {
		case PDUSingleFrame:
			return append([]byte(nil), pdu.Data...), nil
		case PDUFirstFrame:
			return t.receiveConsecutive(ctx, pdu)
		default:
			t.log.Debugf("ignoring unexpected %v while idle", pdu.Type)
		}
	}
}

func (t *Transport) receiveConsecutive(ctx context.Context, first PDU) ([]byte, error) {
	if first.Length > t.config.MaxFrameSize {
		err := FrameTooLongError{NewIsoTpError(fmt.Sprintf("first frame announces %d bytes, limit is %d", first.Length, t.config.MaxFrameSize))}
		if serr := t.sendPDU(NewFlowControl(FlowStatusOverflow, 0, 0)); serr != nil {
			return nil, errors.Join(err, serr)
		}
		return nil, err
	}
	r, err := NewReassembler(first)
	if err != nil {
		return nil, err
	}
	if err := t.sendFlowControl(); err != nil {
		return nil, err
	}

	timer := NewTimer(t.config.TimeoutN_Cr)
	timer.Start()
	inBlock := 0
	for {
		f, ok, err := t.receiveFrame(ctx, timer)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, IncompleteTransferError{Expected: r.Expected(), Received: r.Received()}
		}
		pdu, err := ParsePDU(f.Data)
		if err != nil {
			return nil, err
		}
		switch pdu.Type {
		case PDUConsecutiveFrame:
			done, err := r.Feed(pdu)
			if err != nil {
				return nil, err
			}
			if done {
				return append([]byte(nil), r.Payload()...), nil
			}
			timer.Start()
			inBlock++
			if t.config.BlockSize > 0 && inBlock == t.config.BlockSize {
				if err := t.sendFlowControl(); err != nil {
					return nil, err
				}
				inBlock = 0
			}
		case PDUSingleFrame:
			t.log.Warnf("reception of %d bytes interrupted by a single frame", r.Expected())
			return append([]byte(nil), pdu.Data...), nil
		case PDUFirstFrame:
			t.log.Warnf("reception of %d bytes interrupted by a first frame", r.Expected())
			return t.receiveConsecutive(ctx, pdu)
		default:
			t.log.Debugf("ignoring %v during reception", pdu.Type)
		}
	}
}

// Flush drops frames already queued on the bus and returns how many were
// discarded.
func (t *Transport) Flush() (int, error) {
	dropped := 0
	for {
		f, ok, err := t.bus.Receive(0)
		if err != nil {
			return dropped, err
		}
		if !ok {
			break
		}
		if t.address.IsForMe(f) {
			t.log.Debugf("flushing stale frame %v", f)
		}
		dropped++
	}
	return dropped, nil
}

// receiveFrame returns the next frame addressed to us. ok is false when
// timer expired first.
func (t *Transport) receiveFrame(ctx context.Context, timer *Timer) (driver.Frame, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return driver.Frame{}, false, fmt.Errorf("isotp: %w", err)
		}
		remaining := timer.Remaining()
		if remaining == 0 {
			return driver.Frame{}, false, nil
		}
		wait := boundByContext(ctx, remaining)
		if wait == 0 {
			return driver.Frame{}, false, fmt.Errorf("isotp: %w", context.DeadlineExceeded)
		}
		f, ok, err := t.bus.Receive(wait)
		if err != nil {
			return driver.Frame{}, false, err
		}
		if !ok {
			continue
		}
		if !t.address.IsForMe(f) {
			t.log.Debugf("ignoring frame %v, expecting id 0x%X", f, t.address.RxID)
			continue
		}
		return f, true, nil
	}
}

func (t *Transport) sendFlowControl() error {
	return t.sendPDU(NewFlowControl(FlowStatusContinueToSend, uint8(t.config.BlockSize), uint8(t.config.StMin)))
}

func (t *Transport) sendPDU(p PDU) error {
	return t.bus.Send(t.address.TxFrame(p.Encode(t.config.PaddingByte)))
}
