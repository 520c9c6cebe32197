package core

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout is the soft timeout applied to request contexts when
// no explicit RequestTimeout is configured.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders lists header names whose values are masked in request
// logs to prevent accidental leakage of credentials or signing material.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"Polar-Signature",
	"Svix-Signature",
}

// MountRoutes defines the top-level routing hierarchy.
//
// Middleware ordering:
//  1. Recoverer       - Catches panics; outermost to catch all failures.
//  2. ContextTimeout  - Soft deadline on every request context.
//  3. RequestID       - Generates/propagates correlation ID.
//  4. RequestLogger   - Structured logging (redacted headers).
//
// Webhook routes are mounted without AuthMiddleware: they are authenticated
// by signature verification inside the handlers. Everything else goes
// through AuthMiddleware.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	s.router.Get("/health", s.HandleHealth)

	s.router.Group(func(r chi.Router) {
		for _, registrar := range s.PublicRegistrars {
			registrar(r)
		}
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		for _, registrar := range s.AuthedRegistrars {
			registrar(r)
		}
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.RequestTimeout > 0 {
		return s.RequestTimeout
	}
	return defaultRequestTimeout
}

// HandleHealth reports process liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
