package vxi11

import (
	"encoding/binary"
	"errors"
)

var errShortXDR = errors.New("vxi11: short XDR data")

// xdrWriter appends XDR (RFC 4506) encoded values to a buffer.
type xdrWriter struct {
	buf []byte
}

func (w *xdrWriter) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *xdrWriter) bool(b bool) {
	if b {
		w.uint32(1)
	} else {
		w.uint32(0)
	}
}

// opaque writes variable-length opaque data: length, bytes, zero padding to 4 bytes.
func (w *xdrWriter) opaque(p []byte) {
	w.uint32(uint32(len(p)))
	w.buf = append(w.buf, p...)
	if pad := (4 - len(p)%4) % 4; pad > 0 {
		w.buf = append(w.buf, make([]byte, pad)...)
	}
}

func (w *xdrWriter) string(s string) {
	w.opaque([]byte(s))
}

func (w *xdrWriter) bytes() []byte { return w.buf }

// xdrReader decodes XDR values. The first decoding error sticks and every following
// read returns a zero value, so callers check err once after decoding a structure.
type xdrReader struct {
	buf []byte
	off int
	err error
}

func newXDRReader(p []byte) *xdrReader {
	return &xdrReader{buf: p}
}

func (r *xdrReader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf)-r.off < 4 {
		r.err = errShortXDR
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4

	return v
}

func (r *xdrReader) int32() int32 {
	return int32(r.uint32()) //nolint:gosec
}

func (r *xdrReader) bool() bool {
	return r.uint32() != 0
}

// opaque reads variable-length opaque data of at most limit bytes.
func (r *xdrReader) opaque(limit int) []byte {
	n := int(r.uint32())
	if r.err != nil {
		return nil
	}
	if n > limit {
		r.err = errors.New("vxi11: opaque data exceeds limit")
		return nil
	}
	padded := n + (4-n%4)%4
	if len(r.buf)-r.off < padded {
		r.err = errShortXDR
		return nil
	}
	p := r.buf[r.off : r.off+n]
	r.off += padded

	return p
}

func (r *xdrReader) string(limit int) string {
	return string(r.opaque(limit))
}

func (r *xdrReader) Err() error { return r.err }
