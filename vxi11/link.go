package vxi11

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-dmmscan/instrument"
	"github.com/arloliu/go-dmmscan/logger"
)

// Core channel program (VXI-11 B.6).
const (
	coreProgram = 0x0607AF
	coreVersion = 1

	procCreateLink  = 10
	procDeviceWrite = 11
	procDeviceRead  = 12
	procDeviceClear = 15
	procDestroyLink = 23
)

// Operation flags.
const (
	flagWaitLock    = 0x01
	flagEnd         = 0x08
	flagTermCharSet = 0x80
)

// Read termination reasons.
const (
	reasonReqCnt = 0x01
	reasonChr    = 0x02
	reasonEnd    = 0x04
)

const (
	defaultMaxRecvSize = 1024
	maxReply           = 1 << 20
	destroyTimeout     = 500 * time.Millisecond
)

// Link is an open core channel link to one device. It implements instrument.Device.
//
// Link is NOT goroutine-safe.
type Link struct {
	cfg     *Config
	addr    instrument.Address
	rpc     *rpcClient
	lid     uint32
	maxRecv uint32
	timeout time.Duration
	logger  logger.Logger
	closed  bool
}

var (
	_ instrument.Device  = (*Link)(nil)
	_ instrument.Clearer = (*Link)(nil)
)

// Dial opens a link to addr.Device on the gateway at addr.Host. Every failure is
// reported as an instrument error of KindConnect.
func Dial(ctx context.Context, addr instrument.Address, cfg *Config) (*Link, error) {
	if cfg == nil {
		var err error
		if cfg, err = NewConfig(); err != nil {
			return nil, err
		}
	}

	connectErr := func(err error) error {
		return instrument.NewError(instrument.KindConnect, "dial", addr.String(), err)
	}

	port := cfg.corePort
	if port == 0 {
		p, err := lookupPort(ctx, addr.Host, cfg.portmapPort, coreProgram, coreVersion, cfg.connectTimeout)
		if err != nil {
			return nil, connectErr(err)
		}
		port = p
	}

	conn, err := dialTCP(ctx, addr.Host, port, cfg.connectTimeout)
	if err != nil {
		return nil, connectErr(err)
	}

	l := &Link{
		cfg:     cfg,
		addr:    addr,
		rpc:     newRPCClient(conn, coreProgram, coreVersion),
		timeout: cfg.ioTimeout,
		logger:  cfg.logger.With("device", addr.String()),
	}

	args := &xdrWriter{}
	args.uint32(uuid.New().ID()) // clientId
	args.bool(false)             // lockDevice
	args.uint32(durationMillis(cfg.lockTimeout))
	args.string(addr.Device)

	r, err := l.rpc.call(procCreateLink, args.bytes(), time.Now().Add(cfg.connectTimeout))
	if err == nil {
		code := r.uint32()
		l.lid = r.uint32()
		r.uint32() // abortPort
		l.maxRecv = r.uint32()
		err = r.Err()
		if err == nil && code != ErrCodeNone {
			err = &DeviceError{Proc: "create_link", Code: code}
		}
	}
	if err != nil {
		_ = conn.Close()
		return nil, connectErr(err)
	}
	if l.maxRecv == 0 {
		l.maxRecv = defaultMaxRecvSize
	}

	l.logger.Debug("link created", "lid", l.lid, "max_recv_size", l.maxRecv)

	return l, nil
}

// LinkID returns the link identifier assigned by the server.
func (l *Link) LinkID() uint32 { return l.lid }

// MaxRecvSize returns the largest write chunk accepted by the server.
func (l *Link) MaxRecvSize() uint32 { return l.maxRecv }

// Timeout returns the current I/O timeout.
func (l *Link) Timeout() time.Duration { return l.timeout }

// SetTimeout sets the io_timeout of following calls. The TCP deadline of each call is
// the I/O timeout plus the configured slack.
func (l *Link) SetTimeout(d time.Duration) error {
	if d < MinIOTimeout || d > MaxIOTimeout {
		return instrument.NewError(instrument.KindProtocol, "set timeout", l.addr.String(),
			errTimeoutRange(d))
	}
	l.timeout = d

	return nil
}

// Write sends cmd in chunks of at most MaxRecvSize bytes, with END on the last chunk.
func (l *Link) Write(cmd string) error {
	if l.closed {
		return l.closedErr("write")
	}

	data := []byte(cmd)
	for {
		n := min(len(data), int(l.maxRecv))
		flags := uint32(0)
		if n == len(data) {
			flags |= flagEnd
		}

		args := &xdrWriter{}
		args.uint32(l.lid)
		args.uint32(durationMillis(l.timeout))
		args.uint32(durationMillis(l.cfg.lockTimeout))
		args.uint32(flags)
		args.opaque(data[:n])

		r, err := l.rpc.call(procDeviceWrite, args.bytes(), l.deadline())
		if err != nil {
			return wrap("write", l.addr.String(), err)
		}
		code := r.uint32()
		size := int(r.uint32())
		if err := r.Err(); err != nil {
			return wrap("write", l.addr.String(), err)
		}
		if code != ErrCodeNone {
			return wrap("write", l.addr.String(), &DeviceError{Proc: "device_write", Code: code})
		}

		size = min(size, n)
		data = data[size:]
		if len(data) == 0 {
			return nil
		}
		if size == 0 {
			return instrument.NewError(instrument.KindProtocol, "write", l.addr.String(), errNoProgress)
		}
	}
}

// Read collects one reply: device_read is repeated until the server reports END or
// the termination character. Trailing CR/LF are removed.
func (l *Link) Read() (string, error) {
	if l.closed {
		return "", l.closedErr("read")
	}

	flags := uint32(0)
	termChar := uint32(0)
	if l.cfg.termChar >= 0 {
		flags |= flagTermCharSet
		termChar = uint32(l.cfg.termChar) //nolint:gosec
	}

	var sb strings.Builder
	for {
		args := &xdrWriter{}
		args.uint32(l.lid)
		args.uint32(l.cfg.readSize)
		args.uint32(durationMillis(l.timeout))
		args.uint32(durationMillis(l.cfg.lockTimeout))
		args.uint32(flags)
		args.uint32(termChar)

		r, err := l.rpc.call(procDeviceRead, args.bytes(), l.deadline())
		if err != nil {
			return "", wrap("read", l.addr.String(), err)
		}
		code := r.uint32()
		reason := r.uint32()
		data := r.opaque(maxRecord)
		if err := r.Err(); err != nil {
			return "", wrap("read", l.addr.String(), err)
		}
		if code != ErrCodeNone {
			return "", wrap("read", l.addr.String(), &DeviceError{Proc: "device_read", Code: code})
		}

		sb.Write(data)
		if sb.Len() > maxReply {
			return "", instrument.NewError(instrument.KindProtocol, "read", l.addr.String(), errReplyTooLarge)
		}
		if reason&(reasonEnd|reasonChr) != 0 {
			break
		}
	}

	return strings.TrimRight(sb.String(), "\r\n"), nil
}

// Clear sends a selected device clear.
func (l *Link) Clear() error {
	if l.closed {
		return l.closedErr("clear")
	}

	args := &xdrWriter{}
	args.uint32(l.lid)
	args.uint32(0) // flags
	args.uint32(durationMillis(l.cfg.lockTimeout))
	args.uint32(durationMillis(l.timeout))

	r, err := l.rpc.call(procDeviceClear, args.bytes(), l.deadline())
	if err != nil {
		return wrap("clear", l.addr.String(), err)
	}
	code := r.uint32()
	if err := r.Err(); err != nil {
		return wrap("clear", l.addr.String(), err)
	}
	if code != ErrCodeNone {
		return wrap("clear", l.addr.String(), &DeviceError{Proc: "device_clear", Code: code})
	}

	return nil
}

// Close destroys the link and closes the connection. destroy_link is best effort.
func (l *Link) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	args := &xdrWriter{}
	args.uint32(l.lid)
	if _, err := l.rpc.call(procDestroyLink, args.bytes(), time.Now().Add(destroyTimeout)); err != nil {
		l.logger.Debug("destroy_link failed", "error", err)
	}

	return l.rpc.conn.Close()
}

func (l *Link) deadline() time.Time {
	return time.Now().Add(l.timeout + l.cfg.rpcSlack)
}

func (l *Link) closedErr(op string) error {
	return instrument.NewError(instrument.KindConnect, op, l.addr.String(), instrument.ErrClosed)
}

func durationMillis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}

	return uint32(d / time.Millisecond) //nolint:gosec
}
