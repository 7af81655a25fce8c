// Package http serves the esplayer control API.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/esplayer/internal/config"
	"github.com/jmylchreest/esplayer/internal/http/middleware"
)

const idleTimeout = 120 * time.Second

// Server is the control API: a chi router with huma operations on top.
type Server struct {
	config config.ServerConfig
	logger *slog.Logger
	router *chi.Mux
	api    huma.API
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	connectionID func() string
}

// WithConnectionID tags every request log and response with the id the
// function returns.
func WithConnectionID(fn func() string) Option {
	return func(o *serverOptions) { o.connectionID = fn }
}

// NewServer builds the router and middleware chain. version is published
// in the OpenAPI document.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, version string, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger, o.connectionID))
	router.Use(middleware.Recovery(logger))

	humaConfig := huma.DefaultConfig("esplayer API", version)
	humaConfig.Info.Description = "Elementary stream player control API"

	return &Server{
		config: cfg,
		logger: logger,
		router: router,
		api:    humachi.New(router, humaConfig),
	}
}

// API returns the huma API operations are registered on.
func (s *Server) API() huma.API { return s.api }

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe binds the configured address and serves until ctx is
// done, then drains in-flight requests for up to ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  idleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", slog.String("address", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down control API: %w", err)
	}
	<-errCh
	s.logger.Info("control API stopped")
	return nil
}
