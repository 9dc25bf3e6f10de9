package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/arloliu/go-dmmscan/instrument"
	"github.com/arloliu/go-dmmscan/logger"
	"github.com/arloliu/go-dmmscan/publish"
)

var (
	// ErrNotReady is returned by Loop outside the Ready state.
	ErrNotReady = errors.New("session: not ready")

	// ErrAlreadyUsed is returned by Setup on a session that was set up before.
	// Every generation uses a new Session.
	ErrAlreadyUsed = errors.New("session: already set up")

	ErrNoAddresses  = errors.New("session: no instrument addresses")
	ErrEmptyPrefix  = errors.New("session: empty publish prefix")
	ErrNilDialer    = errors.New("session: dialer is nil")
	ErrNilPublisher = errors.New("session: publisher is nil")

	// ErrDevicePanic wraps a panic raised by a device during teardown.
	ErrDevicePanic = errors.New("session: device panicked")
)

// Option configures a Session.
type Option interface {
	apply(*Session) error
}

type optFunc func(*Session) error

func (f optFunc) apply(s *Session) error { return f(s) }

// WithTimeout sets the per-operation instrument timeout. Default instrument.DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(s *Session) error {
		if d <= 0 {
			return fmt.Errorf("session: invalid timeout %v", d)
		}
		s.timeout = d

		return nil
	})
}

// WithModel sets the expected identity reply. Default DefaultModel.
func WithModel(model string) Option {
	return optFunc(func(s *Session) error {
		if model == "" {
			return errors.New("session: empty model")
		}
		s.model = model

		return nil
	})
}

// WithLogger sets the parent logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Session) error {
		if l == nil {
			return errors.New("session: logger is nil")
		}
		s.logger = l

		return nil
	})
}

// WithMetrics sets the counters shared by the session's handles.
func WithMetrics(m *instrument.Metrics) Option {
	return optFunc(func(s *Session) error {
		s.metrics = m
		return nil
	})
}

// Session is one acquisition generation: it opens and configures a Handle per
// address, runs sample cycles, and tears everything down on Close.
//
// Session is driven by a single goroutine; only State is safe to call concurrently.
type Session struct {
	id      string
	dialer  instrument.Dialer
	pub     *publish.Publisher
	addrs   []instrument.Address
	prefix  string
	timeout time.Duration
	model   string
	logger  logger.Logger
	metrics *instrument.Metrics

	state   atomicState
	used    bool
	handles []*instrument.Handle
}

// New creates a session for the ordered address list. Nothing is opened until Setup.
func New(dialer instrument.Dialer, pub *publish.Publisher, addrs []instrument.Address, prefix string, opts ...Option) (*Session, error) {
	switch {
	case dialer == nil:
		return nil, ErrNilDialer
	case pub == nil:
		return nil, ErrNilPublisher
	case len(addrs) == 0:
		return nil, ErrNoAddresses
	case prefix == "":
		return nil, ErrEmptyPrefix
	}

	s := &Session{
		id:      uuid.NewString(),
		dialer:  dialer,
		pub:     pub,
		addrs:   append([]instrument.Address(nil), addrs...),
		prefix:  prefix,
		timeout: instrument.DefaultTimeout,
		model:   DefaultModel,
		logger:  logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("generation", s.id)

	return s, nil
}

// Generation returns the unique id of this session.
func (s *Session) Generation() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state.Get() }

// Len returns the number of open handles.
func (s *Session) Len() int { return len(s.handles) }

// Setup opens a handle per address in order, checks each identity, then writes the
// arm configuration to all of them. A device with the wrong identity is released
// immediately and never joins the handle set. On error the session stays in
// Configuring and the caller must Close it.
func (s *Session) Setup(ctx context.Context) error {
	if s.used || !s.state.ToConfiguring() {
		return ErrAlreadyUsed
	}
	s.used = true

	s.logger.Info("session setup", "instruments", len(s.addrs))

	for _, addr := range s.addrs {
		if err := ctx.Err(); err != nil {
			return err
		}

		h, err := s.identify(ctx, addr)
		if err != nil {
			return err
		}
		s.handles = append(s.handles, h)
	}

	for _, h := range s.handles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.Write(CmdArm); err != nil {
			return err
		}
	}

	s.state.ToReady()
	s.logger.Info("session ready", "instruments", len(s.handles))

	return nil
}

func (s *Session) identify(ctx context.Context, addr instrument.Address) (*instrument.Handle, error) {
	h, err := instrument.Open(ctx, s.dialer, addr,
		instrument.WithHandleLogger(s.logger),
		instrument.WithHandleMetrics(s.metrics),
	)
	if err != nil {
		return nil, err
	}

	release := func(err error) (*instrument.Handle, error) {
		_ = h.Close()
		return nil, err
	}

	if err := h.SetTimeout(s.timeout); err != nil {
		return release(err)
	}
	// drop replies left over from a previous generation
	if _, err := h.Clear(); err != nil {
		return release(err)
	}

	reply, err := h.Ask(CmdIdentify)
	if err != nil {
		return release(err)
	}
	if id := strings.TrimSpace(reply); id != s.model {
		return release(instrument.NewError(instrument.KindIdentity, "identify", addr.String(),
			fmt.Errorf("got %q, want %q", id, s.model)))
	}

	return h, nil
}

// Loop runs one sample cycle: trigger every instrument in address order, then read
// one reply from each in the same order and publish the readings.
func (s *Session) Loop() error {
	if s.state.Get() != StateReady {
		return ErrNotReady
	}

	for _, h := range s.handles {
		if err := h.Write(CmdTrigger); err != nil {
			return err
		}
	}

	vs := make([]string, 0, len(s.handles))
	for _, h := range s.handles {
		reply, err := h.Read()
		if err != nil {
			return err
		}

		reply = strings.TrimSpace(reply)
		if _, err := strconv.ParseFloat(reply, 64); err != nil {
			return instrument.NewError(instrument.KindProtocol, "read", h.Identity(),
				fmt.Errorf("reading %q is not a number", reply))
		}
		vs = append(vs, reply)
	}

	return s.pub.Publish(ReadingsName(s.prefix), publish.Readings(vs))
}

// Close writes the teardown configuration to every open handle, continuing past
// failures, then releases all handles. It is idempotent and returns the aggregated
// teardown and release errors.
func (s *Session) Close() error {
	if s.state.Get() == StateClosed && len(s.handles) == 0 {
		return nil
	}
	s.state.ToClosing()

	var result *multierror.Error
	for _, h := range s.handles {
		if !h.IsOpen() {
			continue
		}
		if err := guard(func() error { return h.Write(CmdTeardown) }); err != nil {
			s.logger.Warn("teardown failed", "addr", h.Identity(), "error", err)
			result = multierror.Append(result, err)
		}
	}

	for _, h := range s.handles {
		if err := guard(h.Close); err != nil {
			result = multierror.Append(result, err)
		}
	}

	s.handles = nil
	s.state.ToClosed()
	s.logger.Info("session closed")

	return result.ErrorOrNil()
}

// guard runs f and turns a panic into an ErrDevicePanic error, so that one faulty
// driver does not stop the release of the remaining handles.
func guard(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDevicePanic, r)
		}
	}()

	return f()
}
