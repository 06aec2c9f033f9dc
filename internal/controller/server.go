// Package controller serves the read-only status API of a running host.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"snakeplane/internal/auth"
	"snakeplane/internal/controller/handlers"
	"snakeplane/internal/controller/middleware"
)

// Server is the HTTP server for the status API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new status server. metricsHandler may be nil.
func New(addr string, deps handlers.Deps, metricsHandler http.Handler, keys *auth.KeySet, limiter *middleware.RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = middleware.NewRateLimiter()
	}

	h := handlers.New(deps)
	authMW := middleware.Auth(keys)
	rateMW := limiter.Middleware()
	protected := func(fn http.HandlerFunc) http.Handler {
		return authMW(rateMW(fn))
	}

	mux := http.NewServeMux()

	// Probes
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	mux.Handle("GET /plugins", protected(h.ListPlugins))
	mux.Handle("GET /jobs", protected(h.ListJobs))
	mux.Handle("GET /runs/{id}/submissions", protected(h.ListSubmissions))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      middleware.RequestLogger(logger)(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler of the server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		s.logger.Info("status server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
