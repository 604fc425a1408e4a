// Package ecusim is a scripted UDS server used as the peer in tests and
// by the simulate command. It is not a conformant ECU.
package ecusim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/LoveWonYoung/udsdiag/driver"
	"github.com/LoveWonYoung/udsdiag/flash"
	"github.com/LoveWonYoung/udsdiag/tp"
	"github.com/LoveWonYoung/udsdiag/uds"
)

const receivePoll = 100 * time.Millisecond

type download struct {
	address uint32
	size    int
	data    []byte
	counter byte
}

// ECU answers requests arriving on one ISO-TP address pair.
type ECU struct {
	transport *tp.Transport
	cfg       Config
	log       logging.LeveledLogger
	now       func() time.Time

	mu         sync.Mutex
	session    uds.SessionType
	unlocked   map[byte]bool
	seeds      map[byte][]byte
	attempts   map[byte]int
	delayUntil map[byte]time.Time
	running    map[uint16]bool
	active     *download
	memory     []flash.Segment
	requests   int
}

// New serves cfg on bus. address is the ECU side view: TxID is the
// response id and RxID the tester request id.
func New(bus driver.Bus, address *tp.Address, tpCfg tp.Config, cfg Config, loggerFactory logging.LoggerFactory) (*ECU, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	transport, err := tp.NewTransport(bus, address, tpCfg, loggerFactory)
	if err != nil {
		return nil, fmt.Errorf("ecusim: %w", err)
	}
	e := NewHandler(cfg)
	e.transport = transport
	e.log = loggerFactory.NewLogger("ecusim")
	return e, nil
}

// NewHandler builds an ECU without a transport; only Handle may be used.
func NewHandler(cfg Config) *ECU {
	return &ECU{
		cfg:        cfg.clone(),
		log:        logging.NewDefaultLoggerFactory().NewLogger("ecusim"),
		now:        time.Now,
		session:    uds.DefaultSession,
		unlocked:   make(map[byte]bool),
		seeds:      make(map[byte][]byte),
		attempts:   make(map[byte]int),
		delayUntil: make(map[byte]time.Time),
		running:    make(map[uint16]bool),
	}
}

// Run serves requests until ctx is cancelled or the bus fails.
func (e *ECU) Run(ctx context.Context) error {
	if e.transport == nil {
		return errors.New("ecusim: no transport")
	}
	e.log.Infof("serving on %v", e.transport.Address())
	for {
		req, err := e.transport.Receive(ctx, receivePoll)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var rte tp.ReceiveTimeoutError
			if errors.As(err, &rte) {
				continue
			}
			var te *driver.TransportError
			if errors.As(err, &te) {
				return err
			}
			e.log.Warnf("dropping request: %v", err)
			continue
		}
		for _, resp := range e.Handle(req) {
			if err := e.transport.Send(ctx, resp); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				var te *driver.TransportError
				if errors.As(err, &te) {
					return err
				}
				e.log.Warnf("response to SID 0x%02X not delivered: %v", req[0], err)
				break
			}
		}
	}
}

// Requests is the number of requests handled so far.
func (e *ECU) Requests() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

// Session is the session the simulator is in.
func (e *ECU) Session() uds.SessionType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// DID returns the current value of did.
func (e *ECU) DID(did uint16) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.cfg.DIDs[did]
	return append([]byte(nil), v...), ok
}

// Memory returns the segments completed by RequestTransferExit.
func (e *ECU) Memory() []flash.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]flash.Segment(nil), e.memory...)
}

func (e *ECU) DTCs() []uds.DTCRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uds.DTCRecord(nil), e.cfg.DTCs...)
}

// Handle returns the responses to one request in send order. Only
// RoutineControl start may produce NRC 0x78 replies before the final one.
func (e *ECU) Handle(req []byte) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests++
	if len(req) == 0 {
		return nil
	}
	sid := req[0]
	switch sid {
	case uds.SIDDiagnosticSessionControl:
		return one(e.sessionControl(req))
	case uds.SIDECUReset:
		return one(e.ecuReset(req))
	case uds.SIDReadDataByIdentifier:
		return one(e.readDID(req))
	case uds.SIDWriteDataByIdentifier:
		return one(e.writeDID(req))
	case uds.SIDSecurityAccess:
		return one(e.securityAccess(req))
	case uds.SIDRoutineControl:
		return e.routineControl(req)
	case uds.SIDClearDiagnosticInformation:
		return one(e.clearDTCs(req))
	case uds.SIDReadDTCInformation:
		return one(e.readDTCInformation(req))
	case uds.SIDRequestDownload:
		return one(e.requestDownload(req))
	case uds.SIDTransferData:
		return one(e.transferData(req))
	case uds.SIDRequestTransferExit:
		return one(e.transferExit(req))
	default:
		return one(negative(sid, uds.NRCServiceNotSupported))
	}
}

func one(resp []byte) [][]byte { return [][]byte{resp} }

func negative(sid, nrc byte) []byte {
	return []byte{uds.NegativeResponseSID, sid, nrc}
}

func positive(sid byte, data ...byte) []byte {
	return append([]byte{sid + uds.PositiveResponseOffset}, data...)
}

func (e *ECU) lockAll() {
	clear(e.unlocked)
	clear(e.seeds)
	clear(e.running)
	e.active = nil
}
