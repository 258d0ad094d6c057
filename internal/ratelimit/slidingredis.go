package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter is a sliding window log over a Redis sorted set per key. Hits are
// scored by their timestamp in nanoseconds.
type Limiter struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

func (l Limiter) key(k string) string {
	if l.Prefix == "" || strings.HasSuffix(l.Prefix, ":") {
		return l.Prefix + k
	}
	return l.Prefix + ":" + k
}

// Allow logs a hit for key and reports whether the window still has room
// for it. A rejected hit is taken back out of the log, so a caller that
// keeps retrying regains access one window after its oldest accepted hit.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (Decision, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	d := Decision{Allowed: true, Remaining: limit, Reset: now.Add(window)}
	if l.Client == nil || limit <= 0 || window <= 0 {
		return d, nil
	}

	zkey := l.key(key)
	hit := uuid.NewString()
	floor := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	var (
		size   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := l.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, zkey, "-inf", floor)
		p.ZAdd(ctx, zkey, redis.Z{Score: float64(now.UnixNano()), Member: hit})
		size = p.ZCard(ctx, zkey)
		oldest = p.ZRangeWithScores(ctx, zkey, 0, 0)
		p.PExpire(ctx, zkey, window)
		return nil
	})
	if err != nil {
		return Decision{Reset: d.Reset}, err
	}

	if first := oldest.Val(); len(first) == 1 {
		d.Reset = time.Unix(0, int64(first[0].Score)).Add(window)
	}
	used := int(size.Val())
	if used > limit {
		_ = l.Client.ZRem(ctx, zkey, hit).Err()
		d.Allowed, d.Remaining = false, 0
		return d, nil
	}
	d.Remaining = limit - used
	return d, nil
}
