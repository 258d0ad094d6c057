package resilience

import (
	"math/rand/v2"
	"time"
)

const maxBackoff = 5 * time.Minute

// Backoff returns base doubled per attempt (attempt 1 waits base), capped at
// five minutes, then spread by ±jitter (0.2 means ±20%).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	d = min(d, maxBackoff)
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * min(jitter, 1)
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
