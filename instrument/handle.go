package instrument

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-dmmscan/logger"
)

// DefaultTimeout bounds a single instrument operation and therefore the worst-case cycle latency.
const DefaultTimeout = 1 * time.Second

// Handle binds one Address to a live Device for the lifetime of one session generation.
//
// Every Write, Read and Ask is traced at debug level with the exact command and the
// handle identity before the operation proceeds, and the reply is traced on receipt.
// A Handle is not goroutine-safe.
type Handle struct {
	addr    Address
	dev     Device
	logger  logger.Logger
	metrics *Metrics
	timeout time.Duration
	open    bool
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithHandleLogger sets the logger used to trace exchanges.
func WithHandleLogger(l logger.Logger) HandleOption {
	return func(h *Handle) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithHandleMetrics sets the counters updated by the handle.
func WithHandleMetrics(m *Metrics) HandleOption {
	return func(h *Handle) { h.metrics = m }
}

// Open dials addr and wraps the resulting Device in a Handle.
func Open(ctx context.Context, dialer Dialer, addr Address, opts ...HandleOption) (*Handle, error) {
	if dialer == nil {
		return nil, NewError(KindConnect, "dial", addr.Device, errors.New("nil dialer"))
	}

	dev, err := dialer.Dial(ctx, addr)
	if err != nil {
		if KindOf(err) == KindUnknown {
			return nil, NewError(KindConnect, "dial", addr.Device, err)
		}
		return nil, err
	}

	return NewHandle(addr, dev, opts...), nil
}

// NewHandle wraps an already opened Device.
func NewHandle(addr Address, dev Device, opts ...HandleOption) *Handle {
	h := &Handle{
		addr:    addr,
		dev:     dev,
		logger:  logger.GetLogger(),
		timeout: DefaultTimeout,
		open:    true,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("addr", addr.String())
	h.metrics.addOpen(1)
	h.logger.Debug("handle opened")

	return h
}

// Address returns the address the handle is bound to.
func (h *Handle) Address() Address { return h.addr }

// Identity returns a human-readable identity of the handle, used in logs and errors.
func (h *Handle) Identity() string { return h.addr.String() }

// Timeout returns the current per-operation timeout.
func (h *Handle) Timeout() time.Duration { return h.timeout }

// IsOpen reports whether the handle can still be used.
func (h *Handle) IsOpen() bool { return h.open }

// SetTimeout changes the per-operation timeout.
func (h *Handle) SetTimeout(d time.Duration) error {
	if !h.open {
		return ErrClosed
	}
	if d <= 0 {
		return fmt.Errorf("instrument: invalid timeout %v", d)
	}

	h.logger.Debug("set timeout", "timeout", d)
	if err := h.dev.SetTimeout(d); err != nil {
		return h.fail("settimeout", err)
	}
	h.timeout = d

	return nil
}

// Write sends cmd with no reply expected.
func (h *Handle) Write(cmd string) error {
	if !h.open {
		return ErrClosed
	}

	h.logger.Debug("send", "cmd", cmd)
	if err := h.dev.Write(cmd); err != nil {
		return h.fail("write", err)
	}
	h.metrics.incWriteCount()

	return nil
}

// Read blocks for one reply, bounded by the handle timeout.
func (h *Handle) Read() (string, error) {
	if !h.open {
		return "", ErrClosed
	}

	h.logger.Debug("read", "timeout", h.timeout)
	reply, err := h.dev.Read()
	if err != nil {
		return "", h.fail("read", err)
	}
	h.metrics.incReadCount()
	h.logger.Debug("recv", "reply", reply)

	return reply, nil
}

// Ask writes cmd and blocks for its reply.
func (h *Handle) Ask(cmd string) (string, error) {
	if err := h.Write(cmd); err != nil {
		return "", err
	}

	return h.Read()
}

// Clear sends a selected device clear, emptying the instrument's output buffer.
// It returns false without error when the device does not support clearing.
func (h *Handle) Clear() (bool, error) {
	if !h.open {
		return false, ErrClosed
	}

	c, ok := h.dev.(Clearer)
	if !ok {
		return false, nil
	}

	h.logger.Debug("clear")
	if err := c.Clear(); err != nil {
		return true, h.fail("clear", err)
	}

	return true, nil
}

// Close releases the underlying device. Closing a closed handle is a no-op.
func (h *Handle) Close() error {
	if !h.open {
		return nil
	}
	h.open = false
	h.metrics.addOpen(-1)
	h.logger.Debug("handle closed")

	if err := h.dev.Close(); err != nil {
		return Classify("close", h.addr.Device, err)
	}

	return nil
}

func (h *Handle) fail(op string, err error) error {
	err = Classify(op, h.addr.Device, err)
	h.metrics.incErr(KindOf(err))
	h.logger.Debug("exchange failed", "op", op, "error", err)

	return err
}
