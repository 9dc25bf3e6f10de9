// Package clock abstracts wall-clock reads and interruptible sleeps so the
// acquisition scheduler can be driven by a deterministic clock in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock reads the current time and suspends the caller.
type Clock interface {
	// Now returns the current time. Returned values carry a monotonic reading when the
	// implementation is backed by the runtime clock.
	Now() time.Time
	// Sleep suspends the caller for d or until ctx is done, whichever happens first.
	// It returns ctx.Err() when the sleep was interrupted.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the runtime clock. Sleeps reuse timers from a pool.
type Real struct{}

var _ Clock = Real{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	t := getTimer(d)
	defer putTimer(t)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var timerPool sync.Pool

// getTimer returns a timer armed for d, reusing a pooled one when available.
func getTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer)
		if t.Reset(d) {
			select {
			case <-t.C:
			default:
			}
		}
		return t
	}
	return time.NewTimer(d)
}

// putTimer stops t and returns it to the pool. t must not be used afterwards.
func putTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}
