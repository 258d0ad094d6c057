// Package tasks holds asynq background tasks. After a mutation the API drops
// its cached snapshot and enqueues a records refresh; the worker re-fetches
// the source so the Redis mirror is warm for every replica.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/esim-admin/internal/records"
	"github.com/noah-isme/esim-admin/internal/upstream"
)

// TypeRecordsRefresh is the asynq task type for snapshot refreshes.
const TypeRecordsRefresh = "records:refresh"

// RefreshPayload lists the sources to re-fetch.
type RefreshPayload struct {
	Sources []upstream.Source `json:"sources"`
}

// NewRecordsRefreshTask builds a refresh task for sources.
func NewRecordsRefreshTask(sources ...upstream.Source) (*asynq.Task, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("tasks: no sources to refresh")
	}
	raw, err := json.Marshal(RefreshPayload{Sources: sources})
	if err != nil {
		return nil, fmt.Errorf("tasks: encode refresh payload: %w", err)
	}
	return asynq.NewTask(TypeRecordsRefresh, raw, asynq.MaxRetry(3), asynq.Timeout(time.Minute)), nil
}

// Enqueuer submits asynq tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Warmer re-fetches record sets. *records.Store satisfies it.
type Warmer interface {
	Warm(ctx context.Context, sources ...upstream.Source) error
}

// RefreshHandler processes records:refresh tasks.
type RefreshHandler struct {
	Records Warmer
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h RefreshHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p RefreshPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("tasks: decode refresh payload: %v: %w", err, asynq.SkipRetry)
	}
	for _, src := range p.Sources {
		if _, err := upstream.ParseSource(string(src)); err != nil {
			return fmt.Errorf("tasks: %v: %w", err, asynq.SkipRetry)
		}
	}
	start := time.Now()
	if err := h.Records.Warm(ctx, p.Sources...); err != nil {
		return fmt.Errorf("tasks: refresh records: %w", err)
	}
	h.Logger.Info().
		Interface("sources", p.Sources).
		Dur("duration", time.Since(start)).
		Msg("records_refreshed")
	return nil
}

// Register mounts every task handler on mux.
func Register(mux *asynq.ServeMux, refresh RefreshHandler) {
	mux.Handle(TypeRecordsRefresh, refresh)
}

// RefreshingStore is a record store whose Invalidate also schedules a
// background re-fetch. A failed enqueue is logged; the next read loads the
// source on demand anyway.
type RefreshingStore struct {
	*records.Store
	Queue  Enqueuer
	Logger zerolog.Logger
}

// Invalidate drops the snapshot and enqueues a refresh of source.
func (s RefreshingStore) Invalidate(ctx context.Context, source upstream.Source) {
	s.Store.Invalidate(ctx, source)
	if s.Queue == nil {
		return
	}
	task, err := NewRecordsRefreshTask(source)
	if err == nil {
		_, err = s.Queue.EnqueueContext(ctx, task)
	}
	if err != nil {
		s.Logger.Warn().Err(err).Str("source", string(source)).Msg("records_refresh_enqueue_failed")
	}
}
