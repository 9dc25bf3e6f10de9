package vxi11

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dmmscan/instrument"
	"github.com/arloliu/go-dmmscan/sim"
)

// startServer serves bus on loopback ephemeral ports until the test ends.
func startServer(t *testing.T, bus Backend, opts ...ServerOption) *Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(bus, opts...)
	require.NoError(t, srv.Listen(ctx, "127.0.0.1:0", "127.0.0.1:0"))

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	return srv
}

func newSimBus(t *testing.T, opts ...sim.Option) *sim.Bus {
	t.Helper()

	bus, err := sim.NewBus("gpib0", []string{"22", "23"}, opts...)
	require.NoError(t, err)

	return bus
}

func clientConfig(t *testing.T, srv *Server, opts ...Option) *Config {
	t.Helper()

	opts = append([]Option{WithPortmapPort(srv.PortmapPort()), WithConnectTimeout(time.Second)}, opts...)
	cfg, err := NewConfig(opts...)
	require.NoError(t, err)

	return cfg
}

func dialLink(t *testing.T, srv *Server, device string, opts ...Option) *Link {
	t.Helper()

	link, err := Dial(context.Background(), instrument.Address{Host: "127.0.0.1", Device: device}, clientConfig(t, srv, opts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = link.Close() })

	return link
}

// freePort returns a loopback port with nothing listening on it.
func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return port
}
