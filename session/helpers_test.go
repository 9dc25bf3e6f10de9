package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dmmscan/instrument"
	"github.com/arloliu/go-dmmscan/publish"
	"github.com/arloliu/go-dmmscan/sim"
)

// trace records device operations across all instruments in order.
type trace struct {
	mu     sync.Mutex
	events []string
}

func (tr *trace) add(format string, args ...any) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = append(tr.events, fmt.Sprintf(format, args...))
}

func (tr *trace) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.events...)
}

// tracingDialer wraps the devices of another dialer with a trace.
type tracingDialer struct {
	inner instrument.Dialer
	tr    *trace
	// writeErr fails writes of the given command on the given device.
	writeErr map[string]error
	// writePanic panics on writes of the given command on the given device.
	writePanic map[string]bool
}

func (d *tracingDialer) Dial(ctx context.Context, addr instrument.Address) (instrument.Device, error) {
	dev, err := d.inner.Dial(ctx, addr)
	if err != nil {
		d.tr.add("dial-failed:%s", addr.Device)
		return nil, err
	}

	return &tracingDevice{Device: dev, name: addr.Device, d: d}, nil
}

type tracingDevice struct {
	instrument.Device
	name string
	d    *tracingDialer
}

func (t *tracingDevice) Write(cmd string) error {
	t.d.tr.add("write:%s:%s", t.name, cmd)
	if t.d.writePanic[t.name+"|"+cmd] {
		panic("driver fault on " + t.name)
	}
	if err, ok := t.d.writeErr[t.name+"|"+cmd]; ok {
		return err
	}

	return t.Device.Write(cmd)
}

func (t *tracingDevice) Read() (string, error) {
	t.d.tr.add("read:%s", t.name)
	return t.Device.Read()
}

func (t *tracingDevice) Close() error {
	t.d.tr.add("close:%s", t.name)
	return t.Device.Close()
}

func addrs(devices ...string) []instrument.Address {
	out := make([]instrument.Address, len(devices))
	for i, d := range devices {
		out[i] = instrument.Address{Host: "sim", Device: d}
	}

	return out
}

type fixture struct {
	bus    *sim.Bus
	tr     *trace
	dialer *tracingDialer
	mem    *publish.Memory
	pub    *publish.Publisher
}

func newFixture(t *testing.T, opts ...sim.Option) *fixture {
	t.Helper()

	bus, err := sim.NewBus("gpib0", []string{"22", "23"}, opts...)
	require.NoError(t, err)

	tr := &trace{}
	mem := publish.NewMemory(16)

	return &fixture{
		bus:    bus,
		tr:     tr,
		dialer: &tracingDialer{inner: bus, tr: tr, writeErr: map[string]error{}, writePanic: map[string]bool{}},
		mem:    mem,
		pub:    publish.NewPublisher(mem, nil),
	}
}

func (f *fixture) session(t *testing.T, opts ...Option) *Session {
	t.Helper()

	opts = append([]Option{WithTimeout(20 * time.Millisecond)}, opts...)
	s, err := New(f.dialer, f.pub, addrs("gpib0,22", "gpib0,23"), "DMM", opts...)
	require.NoError(t, err)

	return s
}

func (f *fixture) instrument(t *testing.T, device string) *sim.Instrument {
	t.Helper()

	in, ok := f.bus.Instrument(device)
	require.True(t, ok)

	return in
}

var errWrite = errors.New("bus write failed")

var errPublish = errors.New("channel unreachable")

type publishErr struct{}

func (*publishErr) Put(string, publish.Value) error { return errPublish }
func (*publishErr) Close() error                    { return nil }
