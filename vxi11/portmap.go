package vxi11

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Portmapper (RFC 1833) program.
const (
	pmapProgram     = 100000
	pmapVersion     = 2
	pmapProcNull    = 0
	pmapProcGetPort = 3

	ipprotoTCP = 6
)

// ErrNotRegistered is returned when the portmapper has no port for the core program.
var ErrNotRegistered = errors.New("vxi11: core program not registered with portmapper")

// lookupPort asks the portmapper on host for the TCP port of prog/vers.
func lookupPort(ctx context.Context, host string, pmapPort int, prog, vers uint32, timeout time.Duration) (int, error) {
	conn, err := dialTCP(ctx, host, pmapPort, timeout)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	args := &xdrWriter{}
	args.uint32(prog)
	args.uint32(vers)
	args.uint32(ipprotoTCP)
	args.uint32(0)

	c := newRPCClient(conn, pmapProgram, pmapVersion)
	r, err := c.call(pmapProcGetPort, args.bytes(), time.Now().Add(timeout))
	if err != nil {
		return 0, fmt.Errorf("vxi11: portmapper: %w", err)
	}

	port := r.uint32()
	if err := r.Err(); err != nil {
		return 0, fmt.Errorf("vxi11: portmapper: %w", err)
	}
	if port == 0 || port > 65535 {
		return 0, ErrNotRegistered
	}

	return int(port), nil
}

func dialTCP(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	return dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}
