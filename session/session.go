// Package session drives one ECU through diagnostic sessions and security
// access on top of the request/response correlator.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/LoveWonYoung/udsdiag/driver"
	"github.com/LoveWonYoung/udsdiag/security"
	"github.com/LoveWonYoung/udsdiag/tp"
	"github.com/LoveWonYoung/udsdiag/uds"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

const (
	defaultSecurityMaxAttempts = 3
	defaultSecurityDelay       = 10 * time.Second
	defaultSeedTTL             = 5 * time.Second
)

// Requester sends one request and returns its final response.
// *udsclient.Client satisfies it.
type Requester interface {
	SendAndAwait(ctx context.Context, req uds.Request, timeout time.Duration) (uds.Response, error)
}

var _ Requester = (*udsclient.Client)(nil)

type Options struct {
	SecurityMaxAttempts int
	SecurityDelay       time.Duration
	SeedTTL             time.Duration
	// RequestTimeout is passed to every SendAndAwait; zero selects the
	// correlator's own timeout.
	RequestTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		SecurityMaxAttempts: defaultSecurityMaxAttempts,
		SecurityDelay:       defaultSecurityDelay,
		SeedTTL:             defaultSeedTTL,
	}
}

func (o Options) Validate() error {
	var errs []error
	if o.SecurityMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("security max attempts %d must be at least 1", o.SecurityMaxAttempts))
	}
	if o.SecurityDelay < 0 {
		errs = append(errs, errors.New("security delay must not be negative"))
	}
	if o.SeedTTL <= 0 {
		errs = append(errs, errors.New("seed ttl must be positive"))
	}
	if o.RequestTimeout < 0 {
		errs = append(errs, errors.New("request timeout must not be negative"))
	}
	return errors.Join(errs...)
}

type Option func(*Session)

func WithOptions(o Options) Option {
	return func(s *Session) { s.opts = o }
}

// WithClock replaces time.Now for seed expiry and lockout bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(s *Session) { s.loggerFactory = f }
}

// Session is the tester's view of one ECU. Calls are expected to be
// sequential; the correlator rejects overlapping requests.
type Session struct {
	client        Requester
	keys          security.KeyAlgorithm
	opts          Options
	now           func() time.Time
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger

	mu     sync.Mutex
	state  State
	timing uds.SessionTiming
	levels map[byte]*securityLevel
}

// New creates a session in the Disconnected state. keys may be nil when
// SecurityUnlock is not used.
func New(client Requester, keys security.KeyAlgorithm, options ...Option) (*Session, error) {
	if client == nil {
		return nil, errors.New("session: client is required")
	}
	s := &Session{
		client: client,
		keys:   keys,
		opts:   DefaultOptions(),
		now:    time.Now,
		levels: make(map[byte]*securityLevel),
	}
	for _, o := range options {
		o(s)
	}
	if err := s.opts.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid options: %w", err)
	}
	if s.loggerFactory == nil {
		s.loggerFactory = logging.NewDefaultLoggerFactory()
	}
	s.log = s.loggerFactory.NewLogger("session")
	return s, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Timing returns the P2/P2* values reported by the last session change.
func (s *Session) Timing() uds.SessionTiming {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timing
}

func (s *Session) SecurityStatus(level byte) SecurityStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl, ok := s.levels[level]
	if !ok {
		return Locked
	}
	if lvl.status == DelayEnforced && !s.now().Before(lvl.delayUntil) {
		return Locked
	}
	return lvl.status
}

// InvalidKeyAttempts returns the consecutive invalid key count of level.
func (s *Session) InvalidKeyAttempts(level byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lvl, ok := s.levels[level]; ok {
		return lvl.attempts
	}
	return 0
}

// level returns the bookkeeping of level; s.mu must be held.
func (s *Session) level(level byte) *securityLevel {
	lvl, ok := s.levels[level]
	if !ok {
		lvl = &securityLevel{}
		s.levels[level] = lvl
	}
	return lvl
}

func (s *Session) lockAll() {
	for _, lvl := range s.levels {
		lvl.lock()
	}
}

// request sends req and applies the fail-safe transition on bus failures.
func (s *Session) request(ctx context.Context, req uds.Request) (uds.Response, error) {
	resp, err := s.client.SendAndAwait(ctx, req, s.opts.RequestTimeout)
	if err != nil {
		if isBusFailure(err) {
			s.disconnect(err)
		}
		return uds.Response{}, fmt.Errorf("SID 0x%02X: %w", req.ServiceID, err)
	}
	return resp, nil
}

func isBusFailure(err error) bool {
	var te *driver.TransportError
	if errors.As(err, &te) {
		return true
	}
	var tte tp.TransportTimeoutError
	return errors.As(err, &tte)
}

func (s *Session) disconnect(cause error) {
	s.mu.Lock()
	prev := s.state
	s.state = Disconnected
	s.lockAll()
	s.mu.Unlock()
	if prev != Disconnected {
		s.log.Warnf("session %v -> disconnected: %v", prev, cause)
	}
}

// StartSession requests session t and moves to it on a positive response.
// Every security level is locked again.
func (s *Session) StartSession(ctx context.Context, t uds.SessionType) error {
	next, ok := stateFor(t)
	if !ok {
		return fmt.Errorf("%w: 0x%02X", ErrUnsupportedSession, byte(t))
	}
	resp, err := s.request(ctx, uds.DiagnosticSessionControl(t))
	if err != nil {
		return err
	}
	timing, err := uds.ParseDiagnosticSessionControl(resp, t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.timing = timing
	s.lockAll()
	s.mu.Unlock()
	s.log.Infof("session %v -> %v (P2=%v P2*=%v)", prev, next, timing.P2, timing.P2Star)
	return nil
}

// ECUReset resets the ECU. It restarts in the default session with every
// level locked.
func (s *Session) ECUReset(ctx context.Context, t uds.ResetType) error {
	resp, err := s.request(ctx, uds.ECUReset(t))
	if err != nil {
		return err
	}
	if err := uds.ParseECUReset(resp, t); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = DefaultSession
	s.timing = uds.SessionTiming{}
	s.lockAll()
	s.mu.Unlock()
	s.log.Infof("ecu reset 0x%02X, session -> default", byte(t))
	return nil
}

// ReadDID returns the record of did without the service and DID echo.
func (s *Session) ReadDID(ctx context.Context, did uint16) ([]byte, error) {
	resp, err := s.request(ctx, uds.ReadDataByIdentifier(did))
	if err != nil {
		return nil, err
	}
	return uds.ParseReadDataByIdentifier(resp, did)
}

func (s *Session) WriteDID(ctx context.Context, did uint16, data []byte) error {
	resp, err := s.request(ctx, uds.WriteDataByIdentifier(did, data))
	if err != nil {
		return err
	}
	return uds.ParseWriteDataByIdentifier(resp, did)
}

// StartRoutine starts routine id and returns its status record.
func (s *Session) StartRoutine(ctx context.Context, id uint16, params []byte) ([]byte, error) {
	return s.routine(ctx, uds.StartRoutine, id, params)
}

func (s *Session) StopRoutine(ctx context.Context, id uint16, params []byte) ([]byte, error) {
	return s.routine(ctx, uds.StopRoutine, id, params)
}

func (s *Session) RoutineResults(ctx context.Context, id uint16) ([]byte, error) {
	return s.routine(ctx, uds.RequestRoutineResults, id, nil)
}

func (s *Session) routine(ctx context.Context, control uds.RoutineControlType, id uint16, params []byte) ([]byte, error) {
	resp, err := s.request(ctx, uds.RoutineControl(control, id, params))
	if err != nil {
		return nil, err
	}
	return uds.ParseRoutineControl(resp, control, id)
}

// ClearDTCs clears every stored DTC.
func (s *Session) ClearDTCs(ctx context.Context) error {
	return s.ClearDTCGroup(ctx, uds.GroupAllDTCs)
}

func (s *Session) ClearDTCGroup(ctx context.Context, group uint32) error {
	resp, err := s.request(ctx, uds.ClearDiagnosticInformation(group))
	if err != nil {
		return err
	}
	return uds.ParseClearDiagnosticInformation(resp)
}

// ReadDTCs returns the DTCs whose status matches mask.
func (s *Session) ReadDTCs(ctx context.Context, mask byte) ([]uds.DTCRecord, error) {
	list, err := s.readDTCList(ctx, uds.ReadDTCByStatusMask(mask), uds.ReportDTCByStatusMask)
	return list.Records, err
}

func (s *Session) ReadSupportedDTCs(ctx context.Context) ([]uds.DTCRecord, error) {
	list, err := s.readDTCList(ctx, uds.ReadSupportedDTCs(), uds.ReportSupportedDTC)
	return list.Records, err
}

func (s *Session) readDTCList(ctx context.Context, req uds.Request, report byte) (uds.DTCList, error) {
	resp, err := s.request(ctx, req)
	if err != nil {
		return uds.DTCList{}, err
	}
	return uds.ParseDTCList(resp, report)
}

func (s *Session) ReadDTCCount(ctx context.Context, mask byte) (uds.DTCCount, error) {
	resp, err := s.request(ctx, uds.ReadNumberOfDTCByStatusMask(mask))
	if err != nil {
		return uds.DTCCount{}, err
	}
	return uds.ParseDTCCount(resp)
}

func (s *Session) ReadDTCSnapshot(ctx context.Context, dtc uint32, record byte) (uds.DTCRecordData, error) {
	resp, err := s.request(ctx, uds.ReadDTCSnapshotRecord(dtc, record))
	if err != nil {
		return uds.DTCRecordData{}, err
	}
	return uds.ParseDTCRecordData(resp, uds.ReportDTCSnapshotRecordByDTCNumber, dtc)
}

func (s *Session) ReadDTCExtendedData(ctx context.Context, dtc uint32, record byte) (uds.DTCRecordData, error) {
	resp, err := s.request(ctx, uds.ReadDTCExtendedDataRecord(dtc, record))
	if err != nil {
		return uds.DTCRecordData{}, err
	}
	return uds.ParseDTCRecordData(resp, uds.ReportDTCExtDataRecordByDTCNumber, dtc)
}
