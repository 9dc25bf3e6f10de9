package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually driven Clock.
//
// Sleep never blocks: it advances the fake time by the requested duration plus
// the configured overshoot, records the request and then invokes the optional
// OnSleep hook, which tests use to cancel contexts or inject faults at precise
// points of a schedule.
type Fake struct {
	mu        sync.Mutex
	now       time.Time
	overshoot time.Duration
	sleeps    []time.Duration

	// OnSleep is called after the clock was advanced by a Sleep call.
	OnSleep func(d time.Duration)
}

var _ Clock = (*Fake)(nil)

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// SetOvershoot makes every following Sleep last d longer than requested.
func (f *Fake) SetOvershoot(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.overshoot = d
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

// Advance moves the fake time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	if d > 0 {
		f.now = f.now.Add(d + f.overshoot)
	}
	hook := f.OnSleep
	f.mu.Unlock()

	if hook != nil {
		hook(d)
	}

	return ctx.Err()
}

// Sleeps returns a copy of the durations requested so far.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)

	return out
}
