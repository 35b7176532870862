// Package api assembles the HTTP surface of a service.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/api/health"
	"github.com/ahrav/bookstore-events/internal/api/mid"
	"github.com/ahrav/bookstore-events/internal/api/orders"
	"github.com/ahrav/bookstore-events/internal/config"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

// Server serves health probes and, for the order service, the order API.
type Server struct {
	cfg    config.HTTPConfig
	logger *logger.Logger
	router *chi.Mux
}

// Options selects what the server exposes beyond the health probes.
type Options struct {
	Build          string
	Service        string
	TracerProvider trace.TracerProvider
	Ready          health.ReadinessCheck
	// Orders mounts the order API when set.
	Orders  orders.Service
	Metrics APIMetrics
}

// NewServer builds the router for opts.
func NewServer(cfg config.HTTPConfig, log *logger.Logger, opts Options) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.TracerProvider != nil {
		r.Use(mid.Otel(opts.Service, opts.TracerProvider))
	}
	r.Use(mid.Logger(log))
	if opts.Metrics != nil {
		r.Use(mid.Metrics(opts.Metrics))
	}
	r.Use(middleware.Recoverer)

	health.Routes(r, health.Config{Build: opts.Build, Log: log, Ready: opts.Ready})
	if opts.Orders != nil {
		orders.Routes(r, orders.Config{Log: log, Service: opts.Orders})
	}

	return &Server{cfg: cfg, logger: log, router: r}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then drains in-flight requests for up
// to the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.APIAddr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(s.logger, logger.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "starting server", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		_ = server.Close()
		return err
	}
	return nil
}
