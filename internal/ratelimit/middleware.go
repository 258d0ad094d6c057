package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/esim-admin/internal/common"
)

// ByCaller keys requests by the authenticated caller within scope, or by
// client IP for anonymous requests.
func ByCaller(scope string) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := common.UserID(r.Context()); ok && id != "" {
			return scope + ":user:" + id
		}
		return scope + ":ip:" + common.ClientIP(r)
	}
}

// Guard caps an expensive route at Max hits per Window for each key. When
// the limiter itself fails the request is let through and the failure
// logged.
type Guard struct {
	Limiter Limiter
	Key     func(*http.Request) string
	Window  time.Duration
	Max     int
	Logger  zerolog.Logger
}

// Middleware admits at most Max requests per Key within Window and answers
// 429 with Retry-After beyond that. A nil Key disables the guard. When Redis
// is unreachable the request is let through and a warning logged.
func (g Guard) Middleware(next http.Handler) http.Handler {
	if g.Key == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := g.Key(r)
		d, err := g.Limiter.Allow(r.Context(), key, g.Window, g.Max)
		if err != nil {
			g.Logger.Warn().Err(err).Str("key", key).Msg("rate_limit_unavailable")
			next.ServeHTTP(w, r)
			return
		}
		g.describe(w.Header(), d)
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		wait := max(int(time.Until(d.Reset).Round(time.Second)/time.Second), 1)
		w.Header().Set("Retry-After", strconv.Itoa(wait))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
	})
}

func (g Guard) describe(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(g.Max, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
}
