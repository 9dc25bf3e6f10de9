package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-dmmscan/logger"
)

const shutdownTimeout = 5 * time.Second

// Handler answers 204 when the checker passes and 503 with the error text otherwise.
type Handler struct {
	checker Checker
	logger  logger.Logger
}

func NewHandler(checker Checker, l logger.Logger) *Handler {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Handler{checker: checker, logger: l}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	err := h.checker.Check()
	if err == nil {
		h.logger.Debug("health check passed")
		w.WriteHeader(http.StatusNoContent)

		return
	}

	h.logger.Warn("health check failed", "error", err)
	w.WriteHeader(http.StatusServiceUnavailable)
	if _, err := w.Write([]byte(err.Error())); err != nil {
		h.logger.Error("failed to write health check response", "error", err)
	}
}

// NewMux serves /health from checker and, when gatherer is not nil, /metrics.
func NewMux(checker Checker, gatherer prometheus.Gatherer, l logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", NewHandler(checker, l))
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// Server is the HTTP endpoint for health and metrics.
type Server struct {
	srv    *http.Server
	logger logger.Logger
}

func NewServer(addr string, handler http.Handler, l logger.Logger) *Server {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: l,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("http server listening", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
