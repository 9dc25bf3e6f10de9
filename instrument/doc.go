// Package instrument defines the capability interfaces used to talk to a measurement
// instrument and the Handle that binds one instrument address to a live connection.
//
// A transport (see package vxi11, or package sim for an in-process simulator) implements
// Dialer and Device. The acquisition code only ever talks to a Device through a Handle,
// which traces every exchange at debug level, classifies transport failures into the
// error kinds of this package and refuses any use after Close.
//
// Error Kinds:
//   - KindConnect:  the transport is unreachable or the link was lost.
//   - KindTimeout:  no reply arrived within the handle timeout.
//   - KindProtocol: the reply or the transport framing was malformed.
//   - KindIdentity: the instrument reported an unexpected model identifier.
//
// Each kind has a sentinel (ErrConnect, ErrTimeout, ErrProtocol, ErrIdentityMismatch)
// matched by errors.Is against any *Error of that kind.
package instrument
