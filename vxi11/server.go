package vxi11

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-dmmscan/instrument"
	"github.com/arloliu/go-dmmscan/logger"
)

// Backend provides the devices served by a Server.
type Backend interface {
	// Open returns a new connection to the named device, e.g. "gpib0,22".
	Open(device string) (instrument.Device, error)
}

// DefaultServerMaxRecvSize is the maxRecvSize announced by create_link.
const DefaultServerMaxRecvSize = 1024

// ErrServerNotListening is returned by Serve when Listen has not been called.
var ErrServerNotListening = errors.New("vxi11: server is not listening")

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxRecvSize sets the maxRecvSize announced to clients.
func WithMaxRecvSize(n uint32) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxRecv = n
		}
	}
}

// Server serves a portmapper and the VXI-11 core channel for the devices of a Backend.
type Server struct {
	backend Backend
	logger  logger.Logger
	maxRecv uint32

	mu      sync.Mutex
	pmap    net.Listener
	core    net.Listener
	links   map[uint32]*serverLink
	nextLid uint32
	conns   map[net.Conn]struct{}

	shutdown atomic.Bool
	wg       sync.WaitGroup
}

type serverLink struct {
	mu      sync.Mutex
	device  string
	dev     instrument.Device
	wbuf    []byte
	pending []byte
}

// NewServer returns a Server for backend. Call Listen, then Serve.
func NewServer(backend Backend, opts ...ServerOption) *Server {
	s := &Server{
		backend: backend,
		logger:  logger.GetLogger(),
		maxRecv: DefaultServerMaxRecvSize,
		links:   make(map[uint32]*serverLink),
		conns:   make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Listen binds the portmapper and core channel listeners, e.g. ":111" and ":0".
// Port 0 picks a free port; see PortmapPort and CorePort.
func (s *Server) Listen(ctx context.Context, portmapAddr, coreAddr string) error {
	var lc net.ListenConfig

	pmap, err := lc.Listen(ctx, "tcp", portmapAddr)
	if err != nil {
		return err
	}
	core, err := lc.Listen(ctx, "tcp", coreAddr)
	if err != nil {
		_ = pmap.Close()
		return err
	}

	s.mu.Lock()
	s.pmap, s.core = pmap, core
	s.mu.Unlock()

	s.logger.Info("vxi11 server: listening", "portmap", pmap.Addr().String(), "core", core.Addr().String())

	return nil
}

// PortmapPort returns the bound portmapper port, or 0 before Listen.
func (s *Server) PortmapPort() int { return listenerPort(s.pmap) }

// CorePort returns the bound core channel port, or 0 before Listen.
func (s *Server) CorePort() int { return listenerPort(s.core) }

func listenerPort(l net.Listener) int {
	if l == nil {
		return 0
	}
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}

	return 0
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	pmap, core := s.pmap, s.core
	s.mu.Unlock()
	if pmap == nil || core == nil {
		return ErrServerNotListening
	}

	s.wg.Add(2)
	go s.acceptLoop(pmap, s.dispatchPortmap)
	go s.acceptLoop(core, s.dispatchCore)

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.wg.Wait()

	return nil
}

// Close stops the listeners, drops open connections and releases all links.
func (s *Server) Close() error {
	if s.shutdown.Swap(true) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.pmap != nil {
		err = errors.Join(err, s.pmap.Close())
	}
	if s.core != nil {
		err = errors.Join(err, s.core.Close())
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	return err
}

type dispatchFunc func(c *rpcCall, owned map[uint32]struct{}) []byte

func (s *Server) acceptLoop(ln net.Listener, dispatch dispatchFunc) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("vxi11 server: accept failed", "error", err)
			time.Sleep(10 * time.Millisecond)

			continue
		}

		s.mu.Lock()
		if s.shutdown.Load() {
			s.mu.Unlock()
			_ = conn.Close()

			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serveConn(conn, dispatch)
	}
}

func (s *Server) serveConn(conn net.Conn, dispatch dispatchFunc) {
	owned := make(map[uint32]struct{})
	defer func() {
		for lid := range owned {
			s.destroyLink(lid)
		}
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
		s.wg.Done()
	}()

	reader := bufio.NewReader(conn)
	for {
		rec, err := readRecord(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.shutdown.Load() {
				s.logger.Debug("vxi11 server: connection closed", "remoteAddr", conn.RemoteAddr(), "error", err)
			}

			return
		}

		call, err := parseCall(rec)
		var reply []byte
		switch {
		case errors.Is(err, ErrRPCDenied):
			reply = deniedReply(call.xid)
		case err != nil:
			s.logger.Warn("vxi11 server: malformed call", "remoteAddr", conn.RemoteAddr(), "error", err)
			return
		default:
			reply = dispatch(call, owned)
		}

		if err := writeRecord(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) dispatchPortmap(c *rpcCall, _ map[uint32]struct{}) []byte {
	if c.prog != pmapProgram {
		return acceptedReply(c.xid, acceptProgUnavail, nil)
	}
	if c.vers != pmapVersion {
		return acceptedReply(c.xid, acceptProgMismatch, versionRange(pmapVersion))
	}

	switch c.proc {
	case pmapProcNull:
		return acceptedReply(c.xid, acceptSuccess, nil)
	case pmapProcGetPort:
		prog := c.args.uint32()
		vers := c.args.uint32()
		prot := c.args.uint32()
		c.args.uint32()
		if c.args.Err() != nil {
			return acceptedReply(c.xid, acceptGarbageArgs, nil)
		}

		port := 0
		if prog == coreProgram && vers == coreVersion && prot == ipprotoTCP {
			port = s.CorePort()
		}
		w := &xdrWriter{}
		w.uint32(uint32(port)) //nolint:gosec

		return acceptedReply(c.xid, acceptSuccess, w.bytes())
	default:
		return acceptedReply(c.xid, acceptProcUnavail, nil)
	}
}

func (s *Server) dispatchCore(c *rpcCall, owned map[uint32]struct{}) []byte {
	if c.prog != coreProgram {
		return acceptedReply(c.xid, acceptProgUnavail, nil)
	}
	if c.vers != coreVersion {
		return acceptedReply(c.xid, acceptProgMismatch, versionRange(coreVersion))
	}

	var (
		results []byte
		ok      bool
	)
	switch c.proc {
	case procCreateLink:
		results, ok = s.createLink(c.args, owned)
	case procDeviceWrite:
		results, ok = s.deviceWrite(c.args)
	case procDeviceRead:
		results, ok = s.deviceRead(c.args)
	case procDeviceClear:
		results, ok = s.deviceClear(c.args)
	case procDestroyLink:
		results, ok = s.handleDestroyLink(c.args, owned)
	default:
		return acceptedReply(c.xid, acceptProcUnavail, nil)
	}
	if !ok {
		return acceptedReply(c.xid, acceptGarbageArgs, nil)
	}

	return acceptedReply(c.xid, acceptSuccess, results)
}

func versionRange(v uint32) []byte {
	w := &xdrWriter{}
	w.uint32(v)
	w.uint32(v)

	return w.bytes()
}

func (s *Server) createLink(args *xdrReader, owned map[uint32]struct{}) ([]byte, bool) {
	args.uint32() // clientId
	args.bool()   // lockDevice
	args.uint32() // lock_timeout
	device := args.string(256)
	if args.Err() != nil {
		return nil, false
	}

	w := &xdrWriter{}
	dev, err := s.backend.Open(device)
	if err != nil {
		s.logger.Debug("vxi11 server: create_link failed", "device", device, "error", err)
		w.uint32(ErrCodeNotAccessible)
		w.uint32(0)
		w.uint32(0)
		w.uint32(0)

		return w.bytes(), true
	}

	s.mu.Lock()
	s.nextLid++
	lid := s.nextLid
	s.links[lid] = &serverLink{device: device, dev: dev}
	s.mu.Unlock()
	owned[lid] = struct{}{}

	s.logger.Debug("vxi11 server: link created", "lid", lid, "device", device)

	w.uint32(ErrCodeNone)
	w.uint32(lid)
	w.uint32(0) // abortPort: abort channel not served
	w.uint32(s.maxRecv)

	return w.bytes(), true
}

func (s *Server) link(lid uint32) *serverLink {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.links[lid]
}

func errorResult(code uint32, extra ...uint32) []byte {
	w := &xdrWriter{}
	w.uint32(code)
	for _, v := range extra {
		w.uint32(v)
	}

	return w.bytes()
}

func deviceErrCode(err error) uint32 {
	if instrument.KindOf(err) == instrument.KindTimeout || errors.Is(err, instrument.ErrTimeout) {
		return ErrCodeIOTimeout
	}

	return ErrCodeIO
}

func millis(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (s *Server) deviceWrite(args *xdrReader) ([]byte, bool) {
	lid := args.uint32()
	ioTimeout := args.uint32()
	args.uint32() // lock_timeout
	flags := args.uint32()
	data := args.opaque(maxRecord)
	if args.Err() != nil {
		return nil, false
	}

	l := s.link(lid)
	if l == nil {
		return errorResult(ErrCodeInvalidLink, 0), true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.wbuf = append(l.wbuf, data...)
	if flags&flagEnd == 0 {
		return errorResult(ErrCodeNone, uint32(len(data))), true //nolint:gosec
	}

	cmd := string(trimTerminators(l.wbuf))
	l.wbuf = l.wbuf[:0]
	l.pending = nil

	_ = l.dev.SetTimeout(millis(ioTimeout))
	if err := l.dev.Write(cmd); err != nil {
		s.logger.Debug("vxi11 server: device write failed", "lid", lid, "error", err)
		return errorResult(deviceErrCode(err), 0), true
	}

	return errorResult(ErrCodeNone, uint32(len(data))), true //nolint:gosec
}

func (s *Server) deviceRead(args *xdrReader) ([]byte, bool) {
	lid := args.uint32()
	requestSize := args.uint32()
	ioTimeout := args.uint32()
	args.uint32() // lock_timeout
	flags := args.uint32()
	termChar := byte(args.uint32())
	if args.Err() != nil {
		return nil, false
	}

	l := s.link(lid)
	if l == nil {
		return readResult(ErrCodeInvalidLink, 0, nil), true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		_ = l.dev.SetTimeout(millis(ioTimeout))
		reply, err := l.dev.Read()
		if err != nil {
			return readResult(deviceErrCode(err), 0, nil), true
		}
		l.pending = []byte(reply + "\r\n")
	}

	n := min(len(l.pending), int(requestSize))
	reason := uint32(0)
	if flags&flagTermCharSet != 0 {
		for i := range n {
			if l.pending[i] == termChar {
				n = i + 1
				reason |= reasonChr

				break
			}
		}
	}
	if n == len(l.pending) {
		reason |= reasonEnd
	} else if reason == 0 {
		reason = reasonReqCnt
	}

	data := l.pending[:n]
	l.pending = l.pending[n:]

	return readResult(ErrCodeNone, reason, data), true
}

func readResult(code, reason uint32, data []byte) []byte {
	w := &xdrWriter{}
	w.uint32(code)
	w.uint32(reason)
	w.opaque(data)

	return w.bytes()
}

func (s *Server) deviceClear(args *xdrReader) ([]byte, bool) {
	lid := args.uint32()
	args.uint32() // flags
	args.uint32() // lock_timeout
	args.uint32() // io_timeout
	if args.Err() != nil {
		return nil, false
	}

	l := s.link(lid)
	if l == nil {
		return errorResult(ErrCodeInvalidLink), true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.wbuf = l.wbuf[:0]
	l.pending = nil
	if c, ok := l.dev.(instrument.Clearer); ok {
		if err := c.Clear(); err != nil {
			return errorResult(ErrCodeIO), true
		}
	}

	return errorResult(ErrCodeNone), true
}

func (s *Server) handleDestroyLink(args *xdrReader, owned map[uint32]struct{}) ([]byte, bool) {
	lid := args.uint32()
	if args.Err() != nil {
		return nil, false
	}
	if !s.destroyLink(lid) {
		return errorResult(ErrCodeInvalidLink), true
	}
	delete(owned, lid)

	return errorResult(ErrCodeNone), true
}

func (s *Server) destroyLink(lid uint32) bool {
	s.mu.Lock()
	l, ok := s.links[lid]
	delete(s.links, lid)
	s.mu.Unlock()
	if !ok {
		return false
	}

	l.mu.Lock()
	_ = l.dev.Close()
	l.mu.Unlock()

	s.logger.Debug("vxi11 server: link destroyed", "lid", lid, "device", l.device)

	return true
}

// LinkCount returns the number of open links.
func (s *Server) LinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.links)
}

func trimTerminators(p []byte) []byte {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}

	return p
}
