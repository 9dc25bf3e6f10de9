package vxi11

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-dmmscan/instrument"
)

// Device error codes returned in the error field of core channel replies.
const (
	ErrCodeNone               = 0
	ErrCodeSyntax             = 1
	ErrCodeNotAccessible      = 3
	ErrCodeInvalidLink        = 4
	ErrCodeParameter          = 5
	ErrCodeNoChannel          = 6
	ErrCodeNotSupported       = 8
	ErrCodeOutOfResources     = 9
	ErrCodeLocked             = 11
	ErrCodeNoLock             = 12
	ErrCodeIOTimeout          = 15
	ErrCodeIO                 = 17
	ErrCodeInvalidAddress     = 21
	ErrCodeAbort              = 23
	ErrCodeChannelEstablished = 29
)

var errCodeText = map[uint32]string{
	ErrCodeSyntax:             "syntax error",
	ErrCodeNotAccessible:      "device not accessible",
	ErrCodeInvalidLink:        "invalid link identifier",
	ErrCodeParameter:          "parameter error",
	ErrCodeNoChannel:          "channel not established",
	ErrCodeNotSupported:       "operation not supported",
	ErrCodeOutOfResources:     "out of resources",
	ErrCodeLocked:             "device locked by another link",
	ErrCodeNoLock:             "no lock held by this link",
	ErrCodeIOTimeout:          "I/O timeout",
	ErrCodeIO:                 "I/O error",
	ErrCodeInvalidAddress:     "invalid address",
	ErrCodeAbort:              "abort",
	ErrCodeChannelEstablished: "channel already established",
}

// DeviceError is a non-zero error code reported by the instrument server.
type DeviceError struct {
	Proc string
	Code uint32
}

func (e *DeviceError) Error() string {
	text, ok := errCodeText[e.Code]
	if !ok {
		text = "unknown error"
	}

	return fmt.Sprintf("vxi11: %s: %s (%d)", e.Proc, text, e.Code)
}

// Kind maps the device error code to an instrument error kind.
func (e *DeviceError) Kind() instrument.Kind {
	switch e.Code {
	case ErrCodeIOTimeout:
		return instrument.KindTimeout
	case ErrCodeNotAccessible, ErrCodeInvalidLink, ErrCodeNoChannel, ErrCodeInvalidAddress:
		return instrument.KindConnect
	default:
		return instrument.KindProtocol
	}
}

// wrap tags err as an instrument error for the given operation.
func wrap(op, device string, err error) error {
	if err == nil {
		return nil
	}
	if de, ok := err.(*DeviceError); ok { //nolint:errorlint
		return instrument.NewError(de.Kind(), op, device, de)
	}
	if errors.Is(err, ErrConnBroken) {
		return instrument.NewError(instrument.KindConnect, op, device, err)
	}

	return instrument.Classify(op, device, err)
}

var (
	errReplyTooLarge = errors.New("vxi11: reply too large")
	errNoProgress    = errors.New("vxi11: device accepted no data")
)

func errTimeoutRange(d time.Duration) error {
	return fmt.Errorf("vxi11: io timeout %s out of range [%s, %s]", d, MinIOTimeout, MaxIOTimeout)
}
