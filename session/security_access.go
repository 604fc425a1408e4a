package session

import (
	"context"
	"fmt"

	"github.com/LoveWonYoung/udsdiag/uds"
)

// checkDelay fails locally while level is locked out. An expired delay
// clears the lockout and the attempt counter.
func (s *Session) checkDelay(level byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl := s.level(level)
	if lvl.status != DelayEnforced {
		return nil
	}
	if s.now().Before(lvl.delayUntil) {
		return &SecurityDelayActiveError{Level: level, Until: lvl.delayUntil}
	}
	lvl.status = Locked
	lvl.attempts = 0
	return nil
}

// rejected books a negative SecurityAccess response against level.
func (s *Session) rejected(level byte, nrc byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl := s.level(level)
	now := s.now()
	switch nrc {
	case uds.NRCInvalidKey:
		lvl.attempts++
		if lvl.attempts >= s.opts.SecurityMaxAttempts {
			lvl.enforceDelay(now.Add(s.opts.SecurityDelay))
			s.log.Warnf("security level %d: %d invalid keys, locked until %s", level, lvl.attempts, lvl.delayUntil.Format("15:04:05.000"))
			return
		}
		lvl.lock()
	case uds.NRCExceedNumberOfAttempts, uds.NRCRequiredTimeDelayNotExpired:
		lvl.attempts = max(lvl.attempts, s.opts.SecurityMaxAttempts)
		lvl.enforceDelay(now.Add(s.opts.SecurityDelay))
		s.log.Warnf("security level %d: ECU reports NRC 0x%02X, locked until %s", level, nrc, lvl.delayUntil.Format("15:04:05.000"))
	default:
		lvl.lock()
	}
}

// RequestSeed asks for the seed of level. An all-zero seed means the level
// is already unlocked and no key has to be sent.
func (s *Session) RequestSeed(ctx context.Context, level byte) ([]byte, error) {
	req, err := uds.SecurityAccessRequestSeed(level)
	if err != nil {
		return nil, err
	}
	if err := s.checkDelay(level); err != nil {
		return nil, err
	}
	resp, err := s.request(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Negative {
		s.rejected(level, resp.NRC)
		return nil, resp.Err()
	}
	seed, err := uds.ParseSecuritySeed(resp, level)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lvl := s.level(level)
	if uds.IsZeroSeed(seed) {
		lvl.status = Unlocked
		lvl.seed = nil
		lvl.attempts = 0
		s.log.Infof("security level %d already unlocked", level)
		return seed, nil
	}
	lvl.status = SeedRequested
	lvl.seed = append([]byte(nil), seed...)
	lvl.seedExpiry = s.now().Add(s.opts.SeedTTL)
	return seed, nil
}

// SendKey answers the outstanding seed of level with key.
func (s *Session) SendKey(ctx context.Context, level byte, key []byte) error {
	req, err := uds.SecurityAccessSendKey(level, key)
	if err != nil {
		return err
	}
	if err := s.checkDelay(level); err != nil {
		return err
	}
	if err := s.checkSeed(level); err != nil {
		return err
	}
	resp, err := s.request(ctx, req)
	if err != nil {
		return err
	}
	if resp.Negative {
		s.rejected(level, resp.NRC)
		return resp.Err()
	}
	if err := uds.ParseSecurityKey(resp, level); err != nil {
		return err
	}

	s.mu.Lock()
	lvl := s.level(level)
	lvl.status = Unlocked
	lvl.seed = nil
	lvl.attempts = 0
	s.mu.Unlock()
	s.log.Infof("security level %d unlocked", level)
	return nil
}

func (s *Session) checkSeed(level byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl := s.level(level)
	if lvl.status != SeedRequested {
		return fmt.Errorf("%w: level %d is %v", ErrSeedNotRequested, level, lvl.status)
	}
	if now := s.now(); !now.Before(lvl.seedExpiry) {
		age := now.Sub(lvl.seedExpiry) + s.opts.SeedTTL
		lvl.lock()
		return &SeedExpiredError{Level: level, Age: age}
	}
	return nil
}

// SecurityUnlock runs the complete seed/key exchange for level using the
// configured key algorithm.
func (s *Session) SecurityUnlock(ctx context.Context, level byte) error {
	if s.keys == nil {
		return ErrNoKeyAlgorithm
	}
	seed, err := s.RequestSeed(ctx, level)
	if err != nil {
		return err
	}
	if uds.IsZeroSeed(seed) {
		return nil
	}
	key, err := s.keys.ComputeKey(seed, level)
	if err != nil {
		s.mu.Lock()
		s.level(level).lock()
		s.mu.Unlock()
		return fmt.Errorf("compute key for level %d: %w", level, err)
	}
	return s.SendKey(ctx, level, key)
}
