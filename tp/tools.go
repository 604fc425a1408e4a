package tp

import (
	"context"
	"time"
)

// Timer tracks elapsed time against a timeout.
type Timer struct {
	startTime time.Time
	timeout   time.Duration
	running   bool
	now       func() time.Time
}

func NewTimer(timeout time.Duration) *Timer {
	return &Timer{timeout: timeout, now: time.Now}
}

func (t *Timer) Start() {
	t.startTime = t.now()
	t.running = true
}

func (t *Timer) Stop() {
	t.running = false
	t.startTime = time.Time{}
}

func (t *Timer) Remaining() time.Duration {
	if !t.running {
		return 0
	}
	remaining := t.timeout - t.now().Sub(t.startTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *Timer) IsTimedOut() bool {
	return t.running && t.Remaining() == 0
}

// boundByContext shortens d so that a wait never outlives ctx's deadline.
func boundByContext(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < d {
			if until < 0 {
				return 0
			}
			return until
		}
	}
	return d
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
