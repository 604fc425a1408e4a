package session

import (
	"fmt"
	"time"

	"github.com/LoveWonYoung/udsdiag/uds"
)

// State is the diagnostic session the tester believes the ECU is in.
type State int

const (
	Disconnected State = iota
	DefaultSession
	ProgrammingSession
	ExtendedSession
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case DefaultSession:
		return "default"
	case ProgrammingSession:
		return "programming"
	case ExtendedSession:
		return "extended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func stateFor(t uds.SessionType) (State, bool) {
	switch t {
	case uds.DefaultSession:
		return DefaultSession, true
	case uds.ProgrammingSession:
		return ProgrammingSession, true
	case uds.ExtendedSession:
		return ExtendedSession, true
	default:
		return Disconnected, false
	}
}

// SecurityStatus is the access state of one security level.
type SecurityStatus int

const (
	Locked SecurityStatus = iota
	SeedRequested
	Unlocked
	DelayEnforced
)

func (s SecurityStatus) String() string {
	switch s {
	case Locked:
		return "locked"
	case SeedRequested:
		return "seed requested"
	case Unlocked:
		return "unlocked"
	case DelayEnforced:
		return "delay enforced"
	default:
		return fmt.Sprintf("security(%d)", int(s))
	}
}

type securityLevel struct {
	status     SecurityStatus
	seed       []byte
	seedExpiry time.Time
	attempts   int
	delayUntil time.Time
}

// lock drops an unlock or a pending seed. A running delay and the attempt
// counter survive.
func (l *securityLevel) lock() {
	if l.status != DelayEnforced {
		l.status = Locked
	}
	l.seed = nil
}

func (l *securityLevel) enforceDelay(until time.Time) {
	l.status = DelayEnforced
	l.delayUntil = until
	l.seed = nil
}
