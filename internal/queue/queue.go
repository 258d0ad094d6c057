// Package queue is a Redis sorted-set job queue with visibility timeouts,
// retries with backoff and a dead letter store.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/esim-admin/internal/resilience"
)

// KindBulkPriceApply applies a bulk price update outside the request.
const KindBulkPriceApply = "pricing.bulk_apply"

const idlePoll = 100 * time.Millisecond

// Task is one unit of work handed to a Worker handler.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is 1 on the first delivery.
	Attempt int
}

// Enqueuer adds tasks to the ready set of their kind.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue schedules t. A task carrying an idempotency key is dropped while
// another task with the same key is pending or running.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	ks := keyspace(e.Prefix, kind)
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     t.Attempt,
		MaxAttempts: firstPositive(t.MaxAttempts, e.MaxAttempts, 10),
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.Key != "" {
		fresh, err := e.R.SetNX(ctx, ks.dedup(msg.Key), "1", firstPositive(e.DedupTTL, 24*time.Hour)).Result()
		if err != nil || !fresh {
			return err
		}
	}
	return ks.schedule(ctx, e.R, msg)
}

// sanitizeKind returns kind if it only holds lowercase letters, digits and
// the separators - _ : . and "" otherwise.
func sanitizeKind(kind string) string {
	for _, c := range kind {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == ':', c == '.':
		default:
			return ""
		}
	}
	return kind
}

// Worker consumes tasks of a single kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline cancels the handler context before the visibility timeout
	// so a stuck job fails instead of being redelivered while still running.
	SoftDeadline time.Duration
	Handler      func(context.Context, Task) error
	RetryBase    time.Duration
	RetryJitter  float64
	// Store receives dead letters. Without it they are pushed to a Redis list.
	Store  Store
	Logger *zerolog.Logger
}

// Run claims and handles tasks until ctx is cancelled, then waits for the
// handlers in flight. A claimed task is leased in the processing set for
// VisibilityTimeout and goes back to the ready set if the lease runs out.
func (w Worker) Run(ctx context.Context) error {
	switch {
	case w.R == nil:
		return errors.New("queue: worker redis client not configured")
	case w.Handler == nil:
		return errors.New("queue: worker handler not configured")
	case sanitizeKind(w.Kind) == "":
		return errors.New("queue: worker kind is required")
	}
	ks := keyspace(w.Prefix, w.Kind)
	lease := firstPositive(w.VisibilityTimeout, 30*time.Second)

	slots := make(chan struct{}, max(w.Concurrency, 1))
	var wg sync.WaitGroup
	defer wg.Wait()

	sweep := time.NewTicker(max(lease/4, 10*time.Millisecond))
	defer sweep.Stop()

	for ctx.Err() == nil {
		select {
		case <-sweep.C:
			if err := w.requeueExpired(ctx, ks); err != nil && ctx.Err() == nil {
				return err
			}
		default:
		}

		msg, leased, err := w.claim(ctx, ks, lease)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if leased == "" {
			continue
		}

		slots <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			w.deliver(ctx, ks, leased, msg)
		}()
	}
	return nil
}

// claim pops the earliest task and leases it. An empty lease means nothing
// was due and the caller should poll again.
func (w Worker) claim(ctx context.Context, ks keys, lease time.Duration) (taskMessage, string, error) {
	popped, err := w.R.ZPopMin(ctx, ks.ready, 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return taskMessage{}, "", err
	}
	if len(popped) == 0 {
		sleepCtx(ctx, idlePoll)
		return taskMessage{}, "", nil
	}
	member, _ := popped[0].Member.(string)
	msg, err := decodeMessage(member)
	if err != nil {
		w.log().Warn().Err(err).Str("kind", ks.kind).Msg("queue_drop_undecodable")
		return taskMessage{}, "", nil
	}
	if wait := time.Until(time.Unix(0, msg.AvailableAt)); wait > 0 {
		// popped early; put it back untouched
		w.R.ZAdd(ctx, ks.ready, redis.Z{Score: popped[0].Score, Member: member})
		sleepCtx(ctx, min(wait, idlePoll))
		return taskMessage{}, "", nil
	}

	msg.Attempt++
	raw, err := json.Marshal(msg)
	if err != nil {
		return taskMessage{}, "", nil
	}
	leased := string(raw)
	deadline := time.Now().Add(lease).UnixNano()
	if err := w.R.ZAdd(ctx, ks.processing, redis.Z{Score: float64(deadline), Member: leased}).Err(); err != nil {
		return taskMessage{}, "", err
	}
	return msg, leased, nil
}

func (w Worker) deliver(ctx context.Context, ks keys, leased string, msg taskMessage) {
	jobCtx, cancel := context.WithCancel(ctx)
	if w.SoftDeadline > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.SoftDeadline)
	}
	defer cancel()

	started := time.Now()
	err := w.Handler(jobCtx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        msg.Attempt,
	})

	// bookkeeping must survive a cancelled job context
	bg := context.WithoutCancel(ctx)
	_ = w.R.ZRem(bg, ks.processing, leased).Err()
	switch {
	case err == nil:
		w.release(bg, ks, msg)
		observeRun(msg.Kind, "ok", started)
	case msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts:
		w.log().Error().Err(err).Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Msg("queue_task_dead")
		w.release(bg, ks, msg)
		w.deadLetter(bg, ks, msg, err)
		observeRun(msg.Kind, "dead", started)
	default:
		w.log().Warn().Err(err).Str("kind", msg.Kind).Int("attempt", msg.Attempt).Msg("queue_task_failed")
		base := firstPositive(w.RetryBase, 200*time.Millisecond)
		msg.AvailableAt = time.Now().Add(resilience.Backoff(base, msg.Attempt, w.RetryJitter)).UnixNano()
		_ = ks.schedule(bg, w.R, msg)
		observeRun(msg.Kind, "retry", started)
	}
}

func (w Worker) release(ctx context.Context, ks keys, msg taskMessage) {
	if msg.Key != "" {
		_ = w.R.Del(ctx, ks.dedup(msg.Key)).Err()
	}
}

func (w Worker) deadLetter(ctx context.Context, ks keys, msg taskMessage, cause error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if w.Store != nil {
		reason := cause.Error()
		_, err = w.Store.InsertQueueDlq(ctx, DLQEntry{
			Kind:           msg.Kind,
			IdempotencyKey: msg.Key,
			Payload:        raw,
			Attempts:       msg.Attempt,
			LastError:      &reason,
		})
		if err == nil {
			return
		}
		w.log().Error().Err(err).Str("kind", msg.Kind).Msg("queue_dlq_insert_failed")
	}
	_ = w.R.LPush(ctx, ks.dlq, raw).Err()
}

// requeueExpired moves tasks whose lease has run out back to the ready set.
func (w Worker) requeueExpired(ctx context.Context, ks keys) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	expired, err := w.R.ZRangeByScore(ctx, ks.processing, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range expired {
		// another worker may win the race for the same lease
		if n, err := w.R.ZRem(ctx, ks.processing, raw).Result(); err != nil || n == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		if err := ks.schedule(ctx, w.R, msg); err == nil {
			w.log().Warn().Str("kind", msg.Kind).Int("attempt", msg.Attempt).Msg("queue_visibility_requeue")
		}
	}
	return nil
}

func (w Worker) log() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// keys names the Redis keys of one task kind.
type keys struct {
	base       string
	kind       string
	ready      string
	processing string
	dlq        string
}

func keyspace(prefix, kind string) keys {
	base := prefix
	if base == "" {
		base = "queue"
	}
	return keys{
		base:       base,
		kind:       kind,
		ready:      base + ":queue:" + kind,
		processing: base + ":" + kind + ":processing",
		dlq:        base + ":" + kind + ":dlq",
	}
}

func (k keys) dedup(key string) string { return k.base + ":dedup:" + k.kind + ":" + key }

func (k keys) schedule(ctx context.Context, r *redis.Client, msg taskMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.ZAdd(ctx, k.ready, redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

// taskMessage is the JSON member stored in the ready and processing sets and
// in dead letters.
type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

func firstPositive[T ~int | ~int64](vals ...T) T {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
