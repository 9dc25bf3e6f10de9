package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-dmmscan/instrument"
	"github.com/arloliu/go-dmmscan/internal/clock"
	"github.com/arloliu/go-dmmscan/logger"
	"github.com/arloliu/go-dmmscan/publish"
	"github.com/arloliu/go-dmmscan/session"
)

var (
	// ErrPanic wraps a panic recovered inside a generation.
	ErrPanic = errors.New("supervisor: panic in generation")

	// ErrRecovering is reported by Check while the supervisor waits to restart.
	ErrRecovering = errors.New("supervisor: recovering from failure")

	// ErrStopped is reported by Check once Run has returned.
	ErrStopped = errors.New("supervisor: stopped")

	// ErrStale is reported by Check when no cycle completed recently.
	ErrStale = errors.New("supervisor: no recent sample cycle")
)

// Supervisor runs acquisition generations until its context is cancelled.
type Supervisor struct {
	dialer instrument.Dialer
	pub    *publish.Publisher
	addrs  []instrument.Address
	prefix string

	period      time.Duration
	holdOff     time.Duration
	timeout     time.Duration
	model       string
	staleCycles int
	clock       clock.Clock
	logger      logger.Logger
	instMetrics *instrument.Metrics

	metrics    *Metrics
	state      atomicState
	generation atomic.Pointer[string]
	since      atomic.Int64
}

// New creates a Supervisor polling addrs through dialer and publishing with pub
// under prefix. The address list is validated by the first session.
func New(dialer instrument.Dialer, pub *publish.Publisher, addrs []instrument.Address, prefix string, opts ...Option) (*Supervisor, error) {
	switch {
	case dialer == nil:
		return nil, session.ErrNilDialer
	case pub == nil:
		return nil, session.ErrNilPublisher
	case len(addrs) == 0:
		return nil, session.ErrNoAddresses
	case prefix == "":
		return nil, session.ErrEmptyPrefix
	}

	s := &Supervisor{
		dialer:      dialer,
		pub:         pub,
		addrs:       append([]instrument.Address(nil), addrs...),
		prefix:      prefix,
		period:      DefaultPeriod,
		holdOff:     DefaultHoldOff,
		timeout:     instrument.DefaultTimeout,
		model:       session.DefaultModel,
		staleCycles: DefaultStaleCycles,
		clock:       clock.Real{},
		logger:      logger.GetLogger(),
		metrics:     &Metrics{},
	}
	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "supervisor")
	s.state.Set(StateStopped)
	s.since.Store(s.clock.Now().UnixNano())

	return s, nil
}

// Metrics returns the supervisor counters.
func (s *Supervisor) Metrics() *Metrics { return s.metrics }

// State returns the current outer state.
func (s *Supervisor) State() State { return s.state.Get() }

// Generation returns the id of the current or last session, "" before the first.
func (s *Supervisor) Generation() string {
	if p := s.generation.Load(); p != nil {
		return *p
	}

	return ""
}

// Run loops over generations until ctx is cancelled. It returns nil on shutdown;
// instrument and publish failures are logged and recovered, never returned.
func (s *Supervisor) Run(ctx context.Context) error {
	s.state.Set(StateRunning)
	defer s.state.Set(StateStopped)

	s.logger.Info("supervisor started", "instruments", len(s.addrs), "prefix", s.prefix, "period", s.period)

	for {
		err := s.runGeneration(ctx)
		if ctx.Err() != nil {
			s.logger.Info("supervisor stopped")
			return nil
		}

		s.metrics.incRecovery()
		s.state.Set(StateRecovering)
		s.logger.Error("acquisition failed",
			"kind", instrument.KindOf(err).String(),
			"error", err,
			"generation", s.Generation(),
			"holdOff", s.holdOff,
		)

		if err := s.clock.Sleep(ctx, s.holdOff); err != nil {
			s.logger.Info("supervisor stopped during hold-off")
			return nil
		}
	}
}

// runGeneration runs one session until an error or cancellation. The session is
// closed on every exit path, panics included.
func (s *Supervisor) runGeneration(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	sess, err := session.New(s.dialer, s.pub, s.addrs, s.prefix, s.sessionOptions()...)
	if err != nil {
		return err
	}
	id := sess.Generation()
	s.generation.Store(&id)
	s.metrics.incGeneration()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("generation panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	// runs before the recovery above, with its own guard
	defer s.closeSession(sess)

	if err := sess.Setup(ctx); err != nil {
		return err
	}
	s.state.Set(StateRunning)
	s.since.Store(s.clock.Now().UnixNano())

	loopTime := session.LoopTimeName(s.prefix)
	sched := NewSchedule(s.period, s.clock.Now())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := s.clock.Now()
		remaining := sched.Remaining(now)
		if err := s.pub.Publish(loopTime, publish.Scalar(remaining.Seconds())); err != nil {
			return err
		}

		wait, overrun := sched.Next(now)
		if overrun {
			s.metrics.incOverrun()
			s.logger.Warn("loop overrun", "late", -remaining)
		} else if err := s.clock.Sleep(ctx, wait); err != nil {
			return err
		}

		if err := sess.Loop(); err != nil {
			return err
		}
		s.metrics.cycleDone(s.clock.Now())
	}
}

// closeSession closes sess. A panic raised while closing is logged and dropped; a
// panic already unwinding the generation is left to the recovery in runGeneration.
func (s *Supervisor) closeSession(sess *session.Session) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session close panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := sess.Close(); err != nil {
		s.logger.Warn("session close failed", "error", err)
	}
}

// Check reports whether acquisition is healthy: running, with a cycle completed
// within the configured number of periods.
func (s *Supervisor) Check() error {
	switch s.state.Get() {
	case StateRecovering:
		return ErrRecovering
	case StateStopped:
		return ErrStopped
	}

	last := s.since.Load()
	if lc := s.metrics.LastCycle.Load(); lc > last {
		last = lc
	}
	age := s.clock.Now().Sub(time.Unix(0, last))
	if limit := time.Duration(s.staleCycles) * s.period; age > limit {
		return fmt.Errorf("%w: last cycle %s ago", ErrStale, age.Round(time.Millisecond))
	}

	return nil
}
