// Package gateway is the caller-facing HTTP and WebSocket surface over the
// dispatcher, the health monitor, and the usage store.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"modelgate/internal/infra/config"
	"modelgate/internal/infra/middleware"
)

const shutdownTimeout = 5 * time.Second

// Server is the HTTP gateway.
type Server struct {
	cfg       config.ServerConfig
	deps      HandlerDeps
	metrics   *Metrics
	logger    *slog.Logger
	startTime time.Time

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway server.
func NewServer(cfg config.ServerConfig, deps HandlerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Server{
		cfg:       cfg,
		deps:      deps,
		metrics:   &Metrics{},
		logger:    deps.Logger,
		startTime: deps.Now(),
	}
}

// Metrics returns the server's dispatch counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler builds the routed, middleware-wrapped handler. ctx bounds the
// rate limiter's background janitor.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/generate", generateHandler(s.deps, s.metrics))
	mux.HandleFunc("POST /api/v1/stream", streamHandler(s.deps, s.metrics))
	if s.cfg.WebSocket {
		mux.HandleFunc("GET /api/v1/stream/ws", streamWSHandler(s.deps, s.metrics))
	}
	mux.HandleFunc("GET /api/v1/health", healthHandler(s.deps))
	mux.HandleFunc("GET /api/v1/usage", usageHandler(s.deps))
	mux.HandleFunc("GET /api/v1/status", statusHandler(s.deps, s.startTime, s.metrics))
	mux.HandleFunc("GET /metrics", metricsHandler(s.deps, s.startTime, s.metrics))
	mux.HandleFunc("GET /healthz", healthzHandler())
	mux.HandleFunc("GET /readyz", readyzHandler(s.deps))

	return middleware.Chain(mux,
		middleware.AccessLog(s.logger),
		middleware.SecurityHeaders,
		middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: s.cfg.RequestsPerMin,
			BurstSize:      s.cfg.Burst,
			TrustedProxies: s.cfg.TrustedProxies,
		}),
	)
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	srv := &http.Server{
		Handler:           s.Handler(hctx),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return hctx },
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(listener) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.Stop(context.Background()); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server, waiting up to 5s for in-flight
// requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	s.logger.Info("gateway stopped")
	return nil
}

// BoundAddr returns the address the server bound to, or "" before Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}
