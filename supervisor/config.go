package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-dmmscan/instrument"
	"github.com/arloliu/go-dmmscan/internal/clock"
	"github.com/arloliu/go-dmmscan/logger"
	"github.com/arloliu/go-dmmscan/session"
)

// Default values.
const (
	DefaultPeriod  = 1 * time.Second
	DefaultHoldOff = 10 * time.Second

	// DefaultStaleCycles is how many periods may pass without a completed cycle
	// before Check reports the acquisition as stale.
	DefaultStaleCycles = 10
)

// Range limits.
const (
	MinPeriod  = 10 * time.Millisecond
	MaxPeriod  = 1 * time.Hour
	MaxHoldOff = 1 * time.Hour
)

// Option configures a Supervisor.
type Option interface {
	apply(*Supervisor) error
}

type optFunc func(*Supervisor) error

func (f optFunc) apply(s *Supervisor) error { return f(s) }

// WithPeriod sets the sample cycle period. Default 1s.
func WithPeriod(d time.Duration) Option {
	return optFunc(func(s *Supervisor) error {
		if d < MinPeriod || d > MaxPeriod {
			return fmt.Errorf("supervisor: period %s out of range [%s, %s]", d, MinPeriod, MaxPeriod)
		}
		s.period = d

		return nil
	})
}

// WithHoldOff sets the wait between a failed generation and the next. Default 10s.
func WithHoldOff(d time.Duration) Option {
	return optFunc(func(s *Supervisor) error {
		if d < 0 || d > MaxHoldOff {
			return fmt.Errorf("supervisor: hold-off %s out of range [0, %s]", d, MaxHoldOff)
		}
		s.holdOff = d

		return nil
	})
}

// WithTimeout sets the per-operation instrument timeout of every session.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(s *Supervisor) error {
		if d <= 0 {
			return fmt.Errorf("supervisor: invalid timeout %v", d)
		}
		s.timeout = d

		return nil
	})
}

// WithModel sets the identity every instrument must report. Default session.DefaultModel.
func WithModel(model string) Option {
	return optFunc(func(s *Supervisor) error {
		if model == "" {
			return errors.New("supervisor: empty model")
		}
		s.model = model

		return nil
	})
}

// WithClock replaces the runtime clock, for tests.
func WithClock(c clock.Clock) Option {
	return optFunc(func(s *Supervisor) error {
		if c == nil {
			return errors.New("supervisor: clock is nil")
		}
		s.clock = c

		return nil
	})
}

// WithLogger sets the logger. Default is logger.GetLogger().
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Supervisor) error {
		if l == nil {
			return errors.New("supervisor: logger is nil")
		}
		s.logger = l

		return nil
	})
}

// WithInstrumentMetrics sets the counters shared by the handles of every generation.
func WithInstrumentMetrics(m *instrument.Metrics) Option {
	return optFunc(func(s *Supervisor) error {
		s.instMetrics = m
		return nil
	})
}

// WithStaleCycles sets how many periods without a completed cycle make Check fail.
func WithStaleCycles(n int) Option {
	return optFunc(func(s *Supervisor) error {
		if n < 1 {
			return fmt.Errorf("supervisor: stale cycles %d must be positive", n)
		}
		s.staleCycles = n

		return nil
	})
}

// sessionOptions returns the options of every generation's session.
func (s *Supervisor) sessionOptions() []session.Option {
	opts := []session.Option{
		session.WithModel(s.model),
		session.WithLogger(s.logger),
		session.WithMetrics(s.instMetrics),
	}
	if s.timeout > 0 {
		opts = append(opts, session.WithTimeout(s.timeout))
	}

	return opts
}
