package instrument

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Kind classifies instrument failures.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConnect
	KindTimeout
	KindProtocol
	KindIdentity
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindIdentity:
		return "identity"
	default:
		return "unknown"
	}
}

var (
	// ErrConnect matches every KindConnect error: the transport is unreachable or the link was lost.
	ErrConnect = errors.New("connect error")

	// ErrTimeout matches every KindTimeout error: no reply within the configured timeout.
	ErrTimeout = errors.New("timeout")

	// ErrProtocol matches every KindProtocol error: malformed reply or transport framing.
	ErrProtocol = errors.New("protocol error")

	// ErrIdentityMismatch matches every KindIdentity error: wrong or absent device identity.
	ErrIdentityMismatch = errors.New("identity mismatch")
)

// ErrClosed is returned by a Handle used after Close.
var ErrClosed = errors.New("instrument: handle closed")

func (k Kind) sentinel() error {
	switch k {
	case KindConnect:
		return ErrConnect
	case KindTimeout:
		return ErrTimeout
	case KindProtocol:
		return ErrProtocol
	case KindIdentity:
		return ErrIdentityMismatch
	default:
		return nil
	}
}

// Error is the tagged error returned by instrument operations.
type Error struct {
	Kind Kind
	// Op is the operation that failed: dial, write, read, ask, identify, ...
	Op string
	// Addr is the device name (or full address) of the instrument.
	Addr string
	Err  error
}

// NewError returns an *Error of the given kind.
func NewError(kind Kind, op string, addr string, err error) *Error {
	return &Error{Kind: kind, Op: op, Addr: addr, Err: err}
}

func (e *Error) Error() string {
	msg := "instrument " + e.Addr + ": " + e.Op + ": " + e.Kind.sentinelText()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (k Kind) sentinelText() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}

	return "error"
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}

	return KindUnknown
}

// Classify wraps a raw transport error into an *Error.
//
// Errors that already carry a kind are returned unchanged. Deadline and timeout
// errors become KindTimeout; EOF, closed connections, resets and dial failures become
// KindConnect; anything else becomes KindProtocol.
func Classify(op string, addr string, err error) error {
	if err == nil {
		return nil
	}

	var ie *Error
	if errors.As(err, &ie) {
		return err
	}

	return NewError(classifyKind(err), op, addr, err)
}

func classifyKind(err error) Kind {
	var netErr net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return KindConnect
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindConnect
	}

	return KindProtocol
}
