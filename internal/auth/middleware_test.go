package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, svc *TokenService) http.Handler {
	t.Helper()
	return Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMiddleware_RejectsMissingHeader(t *testing.T) {
	svc := NewTokenService([]byte("test-secret"), time.Hour)
	h := newTestHandler(t, svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/forward/status", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestMiddleware_AcceptsValidToken(t *testing.T) {
	svc := NewTokenService([]byte("test-secret"), time.Hour)
	h := newTestHandler(t, svc)

	token, err := svc.Mint("cli")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/forward/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_SkipsNonAPIPaths(t *testing.T) {
	svc := NewTokenService([]byte("test-secret"), time.Hour)
	h := newTestHandler(t, svc)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "path %s", path)
	}
}

func TestMiddleware_SkipsWebSocketPath(t *testing.T) {
	svc := NewTokenService([]byte("test-secret"), time.Hour)
	h := newTestHandler(t, svc)

	// The ws handler validates its own token query parameter.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/ws", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RejectsTamperedToken(t *testing.T) {
	svc := NewTokenService([]byte("test-secret"), time.Hour)
	h := newTestHandler(t, svc)

	token, err := svc.Mint("cli")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/forward/status", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
