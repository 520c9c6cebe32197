package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsync/internal/types"
)

type fakeAuthenticator struct {
	actor types.Actor
	err   error
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (types.Actor, error) {
	if f.err != nil {
		return types.Actor{}, f.err
	}
	return f.actor, nil
}

func newTestServer(t *testing.T, auth Authenticator) *Server {
	t.Helper()
	if auth == nil {
		auth = &fakeAuthenticator{actor: types.Actor{UserID: "user_1"}}
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s, err := NewServer(logger, auth)
	require.NoError(t, err)
	return s
}

func TestRecoverer_PanicReturns500Envelope(t *testing.T) {
	s := newTestServer(t, nil)

	handler := s.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrCodeInternalUnexpected))
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates id when absent", func(t *testing.T) {
		var seen string
		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = types.GetRequestID(r.Context())
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get("X-Request-Id"))
	})

	t.Run("propagates incoming id", func(t *testing.T) {
		var seen string
		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = types.GetRequestID(r.Context())
		}))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-Id", "req_incoming")
		handler.ServeHTTP(httptest.NewRecorder(), r)

		assert.Equal(t, "req_incoming", seen)
	})
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("valid token injects actor", func(t *testing.T) {
		s := newTestServer(t, &fakeAuthenticator{actor: types.Actor{UserID: "user_42"}})

		var got types.Actor
		handler := s.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = types.GetActor(r.Context())
		}))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer tok_valid")
		handler.ServeHTTP(httptest.NewRecorder(), r)

		assert.Equal(t, "user_42", got.UserID)
	})

	t.Run("missing header rejected", func(t *testing.T) {
		s := newTestServer(t, nil)
		handler := s.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("non-bearer header rejected", func(t *testing.T) {
		s := newTestServer(t, nil)
		handler := s.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("authenticator failure rejected", func(t *testing.T) {
		s := newTestServer(t, &fakeAuthenticator{err: errors.New("expired")})
		handler := s.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer tok_expired")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestMountRoutes_PublicVersusAuthed(t *testing.T) {
	// Authenticator always fails so any route behind AuthMiddleware is 401.
	s := newTestServer(t, &fakeAuthenticator{err: errors.New("always fail")})

	s.PublicRegistrars = append(s.PublicRegistrars, func(r chi.Router) {
		r.Post("/webhooks/test", func(w http.ResponseWriter, req *http.Request) {
			OK(w, req, nil)
		})
	})
	s.AuthedRegistrars = append(s.AuthedRegistrars, func(r chi.Router) {
		r.Get("/user/subscription", func(w http.ResponseWriter, req *http.Request) {
			OK(w, req, nil)
		})
	})
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/subscription", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
