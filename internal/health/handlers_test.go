package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esim-admin/internal/health"
	"github.com/noah-isme/esim-admin/internal/resilience"
)

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func ready(t *testing.T, h health.Handler) (int, readyResponse) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var body readyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func probe(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadyWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := health.Handler{Checks: []health.Check{{Name: "redis", Probe: health.Redis(client)}}}
	code, body := ready(t, h)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body.Checks["redis"])

	mr.Close()
	code, body = ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "unavailable", body.Status)
}

func TestReadyOptionalChecksDegrade(t *testing.T) {
	h := health.Handler{Checks: []health.Check{
		{Name: "redis", Probe: probe(nil)},
		{Name: "db", Optional: true, Probe: probe(errors.New("db down"))},
	}}
	code, body := ready(t, h)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "db down", body.Checks["db"])
}

func TestReadyTimesOutSlowChecks(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	h := health.Handler{Checks: []health.Check{{Name: "slow", Timeout: 10 * time.Millisecond, Probe: slow}}}
	code, _ := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestBreakerCheck(t *testing.T) {
	require.NoError(t, health.Breaker(nil)(context.Background()))
	b := resilience.NewBreaker(1, 0.5, time.Minute)
	require.NoError(t, health.Breaker(b)(context.Background()))
	b.Report(context.Background(), false)
	require.Error(t, health.Breaker(b)(context.Background()))
}

func TestReadinessAfterShutdown(t *testing.T) {
	h := health.Handler{Checks: []health.Check{{Name: "redis", Probe: probe(nil)}}}

	health.SetReady(false)
	t.Cleanup(func() { health.SetReady(true) })
	code, body := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "shutting_down", body.Status)
}
