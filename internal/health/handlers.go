// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/resilience"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips readiness; the server clears it when draining.
func SetReady(v bool) { ready.Store(v) }

// Check is one readiness probe. Optional checks degrade the report without
// failing readiness.
type Check struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Probe    func(ctx context.Context) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checks []Check
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every check in parallel and reports 503 when a required one fails.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "shutting_down"})
		return
	}
	results := make(map[string]string, len(h.Checks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	failed, degraded := false, false
	for _, c := range h.Checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := run(r.Context(), c)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				results[c.Name] = "ok"
				return
			}
			results[c.Name] = err.Error()
			if c.Optional {
				degraded = true
			} else {
				failed = true
			}
		}()
	}
	wg.Wait()

	status, code := "ok", http.StatusOK
	switch {
	case failed:
		status, code = "unavailable", http.StatusServiceUnavailable
	case degraded:
		status = "degraded"
	}
	common.JSON(w, code, map[string]any{"status": status, "checks": results})
}

func run(ctx context.Context, c Check) error {
	if c.Probe == nil {
		return nil
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Probe(ctx)
}

// Redis probes a Redis client with PING.
func Redis(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return fmt.Errorf("redis not configured")
		}
		return client.Ping(ctx).Err()
	}
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DB probes the audit database.
func DB(p Pinger) func(context.Context) error {
	return func(ctx context.Context) error {
		if p == nil {
			return fmt.Errorf("database not configured")
		}
		return p.Ping(ctx)
	}
}

// Breaker reports an open upstream circuit as a failure.
func Breaker(b *resilience.Breaker) func(context.Context) error {
	return func(context.Context) error {
		if b == nil {
			return nil
		}
		if st := b.State(); st == resilience.Open {
			return fmt.Errorf("upstream circuit %s", st)
		}
		return nil
	}
}
