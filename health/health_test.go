package health

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiChecker(t *testing.T) {
	ok := CheckerFunc(func() error { return nil })
	down := CheckerFunc(func() error { return errors.New("supervisor: recovering from failure") })
	stale := CheckerFunc(func() error { return errors.New("supervisor: no recent sample cycle") })

	assert.NoError(t, NewMultiChecker().Check())
	assert.NoError(t, NewMultiChecker(ok, ok).Check())

	mc := NewMultiChecker(ok, down)
	mc.Add(stale)
	err := mc.Check()
	require.Error(t, err)
	assert.Equal(t, "supervisor: recovering from failure\nsupervisor: no recent sample cycle", err.Error())
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{name: "healthy", status: http.StatusNoContent},
		{name: "unhealthy", err: errors.New("supervisor: stopped"), status: http.StatusServiceUnavailable, body: "supervisor: stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(CheckerFunc(func() error { return tt.err }), nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "dmmscan_test_total", Help: "test"})
	require.NoError(reg.Register(counter))
	counter.Inc()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)

	srv := NewServer("", NewMux(CheckerFunc(func() error { return nil }), reg, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/health")
	require.NoError(err)
	resp.Body.Close()
	require.Equal(http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(err)
	require.True(strings.Contains(string(body), "dmmscan_test_total 1"))

	cancel()
	select {
	case err := <-done:
		require.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewMux_WithoutMetrics(t *testing.T) {
	mux := NewMux(CheckerFunc(func() error { return nil }), nil, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
