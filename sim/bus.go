package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arloliu/go-dmmscan/instrument"
)

// Bus is a set of simulated instruments keyed by device name ("gpib0,22").
type Bus struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument
}

var _ instrument.Dialer = (*Bus)(nil)

// NewBus creates a bus with one instrument per bus address. Every instrument is
// created with opts. Addresses without a comma are prefixed with bus.
func NewBus(bus string, addrs []string, opts ...Option) (*Bus, error) {
	b := &Bus{instruments: make(map[string]*Instrument, len(addrs))}

	for _, addr := range addrs {
		device := addr
		if bus != "" {
			device = bus + "," + addr
		}
		in, err := NewInstrument(addr, opts...)
		if err != nil {
			return nil, err
		}
		if err := b.Add(device, in); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Add attaches in under device name.
func (b *Bus) Add(device string, in *Instrument) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.instruments == nil {
		b.instruments = make(map[string]*Instrument)
	}
	if _, ok := b.instruments[device]; ok {
		return fmt.Errorf("sim: device %q already attached", device)
	}
	b.instruments[device] = in

	return nil
}

// Instrument returns the instrument attached under device name.
func (b *Bus) Instrument(device string) (*Instrument, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	in, ok := b.instruments[device]

	return in, ok
}

// Devices returns the attached device names in sorted order.
func (b *Bus) Devices() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.instruments))
	for name := range b.instruments {
		out = append(out, name)
	}
	sort.Strings(out)

	return out
}

// Open returns a new connection to the named device.
func (b *Bus) Open(device string) (instrument.Device, error) {
	in, ok := b.Instrument(device)
	if !ok {
		return nil, instrument.NewError(instrument.KindConnect, "open", device, errors.New("sim: no such device"))
	}

	return &conn{in: in, timeout: instrument.DefaultTimeout}, nil
}

// Dial implements instrument.Dialer. The host part of addr is ignored.
func (b *Bus) Dial(ctx context.Context, addr instrument.Address) (instrument.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, instrument.NewError(instrument.KindConnect, "dial", addr.Device, err)
	}

	return b.Open(addr.Device)
}

// conn is one link to a simulated instrument.
type conn struct {
	in      *Instrument
	timeout time.Duration
	closed  bool
}

var (
	_ instrument.Device  = (*conn)(nil)
	_ instrument.Clearer = (*conn)(nil)
)

var errConnClosed = errors.New("sim: connection closed")

func (c *conn) Write(cmd string) error {
	if c.closed {
		return instrument.NewError(instrument.KindConnect, "write", c.in.addr, errConnClosed)
	}

	return c.in.Write(cmd)
}

func (c *conn) Read() (string, error) {
	if c.closed {
		return "", instrument.NewError(instrument.KindConnect, "read", c.in.addr, errConnClosed)
	}

	return c.in.Read(c.timeout)
}

func (c *conn) SetTimeout(d time.Duration) error {
	c.timeout = d
	return nil
}

// Clear performs a selected device clear.
func (c *conn) Clear() error {
	c.in.Clear()
	return nil
}

func (c *conn) Close() error {
	c.closed = true
	return nil
}
