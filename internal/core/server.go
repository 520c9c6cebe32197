package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// RouteRegistrar mounts a handler's routes onto a chi router. Handlers expose
// registrars instead of importing core, avoiding an import cycle.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies for the subsync API, allowing for
// easy injection during testing and distinct configuration per environment.
type Server struct {
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator

	// PublicRegistrars mount routes that carry their own authentication
	// (webhook signature checks). AuthedRegistrars mount routes behind
	// AuthMiddleware.
	PublicRegistrars []RouteRegistrar
	AuthedRegistrars []RouteRegistrar

	// RequestTimeout bounds each request context. Zero means the default.
	RequestTimeout time.Duration

	router *chi.Mux
}

// NewServer initializes the router and validator. The caller mounts routes
// via MountRoutes after registering handlers.
func NewServer(logger *slog.Logger, authenticator Authenticator) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator must not be nil")
	}

	return &Server{
		Logger:        logger,
		Validator:     NewValidator(logger),
		Authenticator: authenticator,
		router:        chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Serve runs the HTTP server until ctx is canceled, then drains in-flight
// requests with a bounded shutdown grace period.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.Logger.Info("http server stopped")
	return <-errCh
}
