package vxi11

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// ONC RPC (RFC 5531) message constants.
const (
	rpcVersion = 2

	msgCall  = 0
	msgReply = 1

	replyAccepted = 0
	replyDenied   = 1

	acceptSuccess      = 0
	acceptProgUnavail  = 1
	acceptProgMismatch = 2
	acceptProcUnavail  = 3
	acceptGarbageArgs  = 4
	acceptSystemErr    = 5

	authNone = 0
)

// record marking (RFC 5531 section 11)
const (
	lastFragment = 1 << 31
	maxRecord    = 1 << 20
)

var (
	// ErrRPCDenied is returned when the server rejects a call (RPC version or auth).
	ErrRPCDenied = errors.New("vxi11: rpc call denied")

	// ErrRPCNotAccepted is returned when the server accepts a call but does not run it.
	ErrRPCNotAccepted = errors.New("vxi11: rpc call not accepted")

	// ErrRecordTooLarge is returned for a record-marked message above the size limit.
	ErrRecordTooLarge = errors.New("vxi11: rpc record too large")

	// ErrConnBroken is returned by every call after a transport error left the
	// record stream in an unknown state.
	ErrConnBroken = errors.New("vxi11: rpc connection broken")

	errBadReply = errors.New("vxi11: malformed rpc reply")
)

func acceptStatText(stat uint32) string {
	switch stat {
	case acceptProgUnavail:
		return "program unavailable"
	case acceptProgMismatch:
		return "program version mismatch"
	case acceptProcUnavail:
		return "procedure unavailable"
	case acceptGarbageArgs:
		return "garbage arguments"
	case acceptSystemErr:
		return "system error"
	default:
		return fmt.Sprintf("accept status %d", stat)
	}
}

// writeRecord sends payload as a single last fragment.
func writeRecord(w io.Writer, payload []byte) error {
	buf := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(buf, lastFragment|uint32(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)

	return err
}

// readRecord reads fragments until the last one and returns the joined record.
func readRecord(r io.Reader) ([]byte, error) {
	var (
		hdr [4]byte
		rec []byte
	)
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		v := binary.BigEndian.Uint32(hdr[:])
		n := int(v &^ lastFragment)
		if len(rec)+n > maxRecord {
			return nil, ErrRecordTooLarge
		}
		start := len(rec)
		rec = append(rec, make([]byte, n)...)
		if _, err := io.ReadFull(r, rec[start:]); err != nil {
			return nil, err
		}
		if v&lastFragment != 0 {
			return rec, nil
		}
	}
}

// xidGen hands out transaction ids starting at a random point, so replies to a
// previous process on a reused gateway connection are not mistaken for ours.
type xidGen struct {
	id atomic.Uint32
}

func newXIDGen() *xidGen {
	g := &xidGen{}
	var buf [4]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err == nil {
		g.id.Store(binary.LittleEndian.Uint32(buf[:]))
	}

	return g
}

func (g *xidGen) next() uint32 { return g.id.Add(1) }

// rpcClient issues calls to one program over one TCP connection.
//
// It is NOT goroutine-safe; the owning Link serializes calls.
type rpcClient struct {
	conn   net.Conn
	reader *bufio.Reader
	prog   uint32
	vers   uint32
	xids   *xidGen
	// broken is the transport error that desynchronised the stream.
	broken error
}

func newRPCClient(conn net.Conn, prog, vers uint32) *rpcClient {
	return &rpcClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		prog:   prog,
		vers:   vers,
		xids:   newXIDGen(),
	}
}

// call sends proc with the encoded args and returns a reader positioned at the results.
// The whole exchange must complete before deadline.
//
// A transport error may leave a partial record buffered, so after one every later
// call fails with ErrConnBroken without touching the connection.
func (c *rpcClient) call(proc uint32, args []byte, deadline time.Time) (*xdrReader, error) {
	if c.broken != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnBroken, c.broken)
	}
	xid := c.xids.next()

	w := &xdrWriter{buf: make([]byte, 0, 40+len(args))}
	w.uint32(xid)
	w.uint32(msgCall)
	w.uint32(rpcVersion)
	w.uint32(c.prog)
	w.uint32(c.vers)
	w.uint32(proc)
	w.uint32(authNone) // cred
	w.opaque(nil)
	w.uint32(authNone) // verf
	w.opaque(nil)
	w.buf = append(w.buf, args...)

	if err := c.conn.SetDeadline(deadline); err != nil {
		c.broken = err
		return nil, err
	}
	if err := writeRecord(c.conn, w.bytes()); err != nil {
		c.broken = err
		return nil, err
	}

	for {
		rec, err := readRecord(c.reader)
		if err != nil {
			c.broken = err
			return nil, err
		}

		r := newXDRReader(rec)
		if r.uint32() != xid {
			// late reply to a call that already timed out
			continue
		}

		return parseReply(r)
	}
}

func parseReply(r *xdrReader) (*xdrReader, error) {
	if r.uint32() != msgReply {
		return nil, errBadReply
	}

	switch r.uint32() {
	case replyAccepted:
		r.uint32() // verf flavor
		r.opaque(400)
		stat := r.uint32()
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", errBadReply, err)
		}
		if stat != acceptSuccess {
			return nil, fmt.Errorf("%w: %s", ErrRPCNotAccepted, acceptStatText(stat))
		}

		return r, nil
	case replyDenied:
		return nil, ErrRPCDenied
	default:
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", errBadReply, err)
		}

		return nil, errBadReply
	}
}

// rpcCall is a decoded incoming call, used by Server.
type rpcCall struct {
	xid  uint32
	prog uint32
	vers uint32
	proc uint32
	args *xdrReader
}

func parseCall(rec []byte) (*rpcCall, error) {
	r := newXDRReader(rec)
	c := &rpcCall{xid: r.uint32()}
	if mtype := r.uint32(); r.Err() == nil && mtype != msgCall {
		return nil, fmt.Errorf("vxi11: unexpected message type %d", mtype)
	}
	rpcvers := r.uint32()
	c.prog = r.uint32()
	c.vers = r.uint32()
	c.proc = r.uint32()
	r.uint32() // cred
	r.opaque(400)
	r.uint32() // verf
	r.opaque(400)
	if err := r.Err(); err != nil {
		return nil, err
	}
	if rpcvers != rpcVersion {
		return c, ErrRPCDenied
	}
	c.args = r

	return c, nil
}

// acceptedReply encodes a reply with the given accept status and result body.
// For PROG_MISMATCH the body carries the supported version range.
func acceptedReply(xid, stat uint32, results []byte) []byte {
	w := &xdrWriter{buf: make([]byte, 0, 24+len(results))}
	w.uint32(xid)
	w.uint32(msgReply)
	w.uint32(replyAccepted)
	w.uint32(authNone)
	w.opaque(nil)
	w.uint32(stat)
	w.buf = append(w.buf, results...)

	return w.bytes()
}

// deniedReply encodes an RPC_MISMATCH rejection.
func deniedReply(xid uint32) []byte {
	w := &xdrWriter{}
	w.uint32(xid)
	w.uint32(msgReply)
	w.uint32(replyDenied)
	w.uint32(0) // RPC_MISMATCH
	w.uint32(rpcVersion)
	w.uint32(rpcVersion)

	return w.bytes()
}
