package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/esim-admin/internal/common"
)

// AdminHandler serves the dead letter and queue stats endpoints.
type AdminHandler struct {
	Store             Store
	Queue             Enqueuer
	PageSize          int
	Logger            zerolog.Logger
	VisibilityTimeout time.Duration
}

type deadLetterView struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Attempts       int             `json:"attempts"`
	LastError      *string         `json:"lastError,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

func viewOf(e DLQEntry) deadLetterView {
	v := deadLetterView{
		ID:             e.ID,
		Kind:           e.Kind,
		IdempotencyKey: e.IdempotencyKey,
		Attempts:       e.Attempts,
		LastError:      e.LastError,
		CreatedAt:      e.CreatedAt,
	}
	// only JSON job bodies are echoed back
	if msg, err := decodeMessage(string(e.Payload)); err == nil && json.Valid(msg.Payload) {
		v.Payload = msg.Payload
	}
	return v
}

// ListDLQ handles GET /api/v1/admin/queue/dlq?kind=&limit=&offset=.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue store unavailable", nil)
		return
	}
	q := r.URL.Query()
	kind := sanitizeKind(strings.TrimSpace(q.Get("kind")))
	limit, offset := common.Window(q, h.pageSize(), 200)

	entries, err := h.Store.ListQueueDlq(r.Context(), kind, limit, offset)
	if err == nil {
		var total int64
		if total, err = h.Store.CountQueueDlq(r.Context(), kind); err == nil {
			views := make([]deadLetterView, len(entries))
			for i, e := range entries {
				views[i] = viewOf(e)
			}
			common.JSON(w, http.StatusOK, map[string]any{"data": views, "total": total})
			return
		}
	}
	h.Logger.Error().Err(err).Str("kind", kind).Msg("queue_dlq_list_failed")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to list dead letters", nil)
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit"`
}

// ReplayDLQ handles POST /api/v1/admin/queue/dlq/replay. Entries are chosen
// by id list or, without ids, the newest entries of kind.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	req.Kind = sanitizeKind(strings.TrimSpace(req.Kind))
	if len(req.IDs) == 0 && req.Kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or kind required", nil)
		return
	}

	ctx := r.Context()
	failed := make(map[string]string)
	entries, err := h.selectEntries(ctx, req, failed)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to list dead letters", nil)
		return
	}
	replayed := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		if err := h.requeue(ctx, e); err != nil {
			failed[e.ID.String()] = err.Error()
			continue
		}
		replayed = append(replayed, e.ID)
	}
	h.Logger.Info().Int("replayed", len(replayed)).Int("failed", len(failed)).Msg("queue_dlq_replay")

	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

// selectEntries resolves the replay selection. Per-id lookup failures are
// recorded in failed; only a listing failure is returned.
func (h *AdminHandler) selectEntries(ctx context.Context, req replayRequest, failed map[string]string) ([]DLQEntry, error) {
	if len(req.IDs) == 0 {
		limit := req.Limit
		if limit <= 0 {
			limit = h.pageSize()
		}
		return h.Store.ListQueueDlq(ctx, req.Kind, limit, 0)
	}
	var out []DLQEntry
	seen := make(map[uuid.UUID]bool, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			failed[raw] = "invalid uuid"
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		e, err := h.Store.GetQueueDlq(ctx, id)
		if err != nil {
			failed[raw] = err.Error()
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// requeue enqueues the dead task as a fresh delivery and drops the entry.
// The dedup key was released when the task died.
func (h *AdminHandler) requeue(ctx context.Context, e DLQEntry) error {
	msg, err := decodeMessage(string(e.Payload))
	if err != nil {
		return err
	}
	task := Task{Kind: msg.Kind, Payload: msg.Payload, IdempotencyKey: msg.Key, MaxAttempts: msg.MaxAttempts}
	if err := h.Queue.Enqueue(ctx, task); err != nil {
		return err
	}
	return h.Store.DeleteQueueDlq(ctx, e.ID)
}

// queueStats is the body of the stats endpoint.
type queueStats struct {
	Kind              string  `json:"kind"`
	Ready             int64   `json:"ready"`
	Processing        int64   `json:"processing"`
	DLQ               int64   `json:"dlq"`
	OldestLagMillis   int64   `json:"oldest_lag_ms"`
	VisibilitySeconds float64 `json:"visibility_timeout"`
}

// Stats handles GET /api/v1/admin/queue/stats?kind=.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	kind := sanitizeKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind == "" {
		kind = KindBulkPriceApply
	}
	st, err := h.stats(r.Context(), kind)
	if err != nil {
		h.Logger.Error().Err(err).Str("kind", kind).Msg("queue_stats_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to read queue", nil)
		return
	}
	depthGauge.WithLabelValues(kind).Set(float64(st.Ready))
	deadGauge.WithLabelValues(kind).Set(float64(st.DLQ))
	common.JSON(w, http.StatusOK, st)
}

func (h *AdminHandler) stats(ctx context.Context, kind string) (queueStats, error) {
	ks := keyspace(h.Queue.Prefix, kind)
	st := queueStats{
		Kind:              kind,
		VisibilitySeconds: firstPositive(h.VisibilityTimeout, 60*time.Second).Seconds(),
	}

	pipe := h.Queue.R.Pipeline()
	ready := pipe.ZCard(ctx, ks.ready)
	processing := pipe.ZCard(ctx, ks.processing)
	oldest := pipe.ZRangeWithScores(ctx, ks.ready, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return queueStats{}, err
	}
	st.Ready, st.Processing = ready.Val(), processing.Val()
	if head := oldest.Val(); len(head) > 0 {
		st.OldestLagMillis = max(time.Since(time.Unix(0, int64(head[0].Score))).Milliseconds(), 0)
	}

	if h.Store != nil {
		n, err := h.Store.CountQueueDlq(ctx, kind)
		if err != nil {
			h.Logger.Warn().Err(err).Msg("queue_dlq_count_failed")
		}
		st.DLQ = n
	}
	return st, nil
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}
