package instrument

import (
	"context"
	"time"
)

// Device is a request/response connection to one instrument.
//
// Implementations are not required to be goroutine-safe: a Device is owned by a single
// Handle and used by one goroutine at a time.
type Device interface {
	// Write sends cmd with no reply expected.
	Write(cmd string) error
	// Read blocks until one reply is available or the device timeout elapses.
	// The returned string has its trailing line terminators removed.
	Read() (string, error)
	// SetTimeout bounds every following Write and Read.
	SetTimeout(d time.Duration) error
	// Close releases the connection.
	Close() error
}

// Clearer is implemented by Devices that support a selected device clear.
type Clearer interface {
	Clear() error
}

// Dialer opens Devices.
type Dialer interface {
	// Dial opens a connection to addr. Failures should be reported with KindConnect.
	Dial(ctx context.Context, addr Address) (Device, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr Address) (Device, error)

func (f DialerFunc) Dial(ctx context.Context, addr Address) (Device, error) { return f(ctx, addr) }
