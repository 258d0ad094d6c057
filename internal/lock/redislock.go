// Package lock implements a single-holder Redis lock whose lease is kept
// alive while the holder's callback runs.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned by TryLock when another holder owns the key.
var ErrLocked = errors.New("lock: already held")

var (
	unlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then return 0 end
return redis.call("DEL", KEYS[1])`)

	extend = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then return 0 end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])`)
)

const (
	defaultTTL  = 30 * time.Second
	defaultPoll = 50 * time.Millisecond
)

// Locker hands out leases on Redis keys. Poll is the wait between attempts
// in WithLock.
type Locker struct {
	R    *redis.Client
	Poll time.Duration
}

// WithLock runs fn while holding key, waiting until the key is free or ctx
// is done.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if err := l.check(fn); err != nil {
		return err
	}
	poll := l.Poll
	if poll <= 0 {
		poll = defaultPoll
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := l.TryLock(ctx, key, ttl, fn)
		if !errors.Is(err, ErrLocked) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// TryLock runs fn under key or returns ErrLocked at once. The lease is
// renewed every ttl/3 until fn returns and is released afterwards, even if
// fn fails.
func (l Locker) TryLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if err := l.check(fn); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	lease := lease{r: l.R, key: key, token: uuid.NewString()}
	ok, err := l.R.SetNX(ctx, key, lease.token, ttl).Result()
	switch {
	case err != nil:
		return err
	case !ok:
		return ErrLocked
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		lease.keepAlive(ctx, ttl, stop)
	}()
	defer func() {
		close(stop)
		<-done
		lease.release()
	}()
	return fn(ctx)
}

func (l Locker) check(fn func(context.Context) error) error {
	switch {
	case l.R == nil:
		return errors.New("lock: redis client not configured")
	case fn == nil:
		return errors.New("lock: callback not provided")
	}
	return nil
}

type lease struct {
	r     *redis.Client
	key   string
	token string
}

func (l lease) keepAlive(ctx context.Context, ttl time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(max(ttl/3, time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := extend.Run(ctx, l.r, []string{l.key}, l.token, ttl.Milliseconds()).Int()
			if err != nil || n == 0 {
				return
			}
		}
	}
}

func (l lease) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = unlock.Run(ctx, l.r, []string{l.key}, l.token).Err()
}
