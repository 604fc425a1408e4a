package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoKeyAlgorithm     = errors.New("session: no key algorithm configured")
	ErrSeedNotRequested   = errors.New("session: no seed requested for this level")
	ErrUnsupportedSession = errors.New("session: unsupported session type")
)

// SecurityDelayActiveError rejects a security access request locally while
// the lockout delay after repeated invalid keys is running.
type SecurityDelayActiveError struct {
	Level byte
	Until time.Time
}

func (e *SecurityDelayActiveError) Error() string {
	return fmt.Sprintf("security level %d locked until %s", e.Level, e.Until.Format("15:04:05.000"))
}

// SeedExpiredError means a key was offered for a seed older than SeedTTL.
type SeedExpiredError struct {
	Level byte
	Age   time.Duration
}

func (e *SeedExpiredError) Error() string {
	return fmt.Sprintf("seed for security level %d expired (%v old)", e.Level, e.Age)
}
