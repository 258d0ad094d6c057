package ratelimit

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esim-admin/internal/common"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGuardEnforcesLimitPerCaller(t *testing.T) {
	client, _ := newClient(t)
	handler := Guard{
		Limiter: Limiter{Client: client, Prefix: "ratelimit"},
		Key:     ByCaller("bulk"),
		Window:  time.Minute,
		Max:     1,
	}
	counted := handler.Middleware(okHandler())

	request := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/packages/bulk-price/apply", nil)
		req = req.WithContext(common.WithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		counted.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, request("alice").Code)

	rec := request("alice")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), "RATE_LIMITED")

	require.Equal(t, http.StatusOK, request("bob").Code)
}

func TestGuardFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	var logs bytes.Buffer
	handler := Guard{
		Limiter: Limiter{Client: client, Prefix: "ratelimit"},
		Key:     func(*http.Request) string { return "err" },
		Window:  time.Second,
		Max:     1,
		Logger:  zerolog.New(&logs),
	}

	rec := httptest.NewRecorder()
	handler.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	require.Contains(t, logs.String(), "rate_limit_unavailable")
}

func TestGlobalLimiterByIP(t *testing.T) {
	client, _ := newClient(t)
	mw, err := NewGlobal(client, "2-M", "global")
	require.NoError(t, err)
	h := mw(okHandler())

	serve := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
		req.RemoteAddr = ip + ":4321"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusOK, serve("198.51.100.1"))
	require.Equal(t, http.StatusOK, serve("198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, serve("198.51.100.1"))
	require.Equal(t, http.StatusOK, serve("198.51.100.2"))

	_, err = NewGlobal(nil, "lots", "global")
	require.Error(t, err)
}
