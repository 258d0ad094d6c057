package listing

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/obs"
	"github.com/noah-isme/esim-admin/internal/records"
	"github.com/noah-isme/esim-admin/internal/upstream"
	"github.com/noah-isme/esim-admin/internal/view"
)

// Loader returns record snapshots. records.Store satisfies it.
type Loader interface {
	Get(ctx context.Context, source upstream.Source, refresh bool) (*records.Snapshot, records.Origin, error)
}

// Handler serves computed views over full record snapshots.
type Handler struct {
	store   Loader
	limits  Limits
	schemas map[upstream.Source]view.Schema
	logger  zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Store   Loader
	Limits  Limits
	Schemas map[upstream.Source]view.Schema
	Logger  zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	schemas := cfg.Schemas
	if schemas == nil {
		schemas = DefaultSchemas
	}
	return &Handler{store: cfg.Store, limits: cfg.Limits.normalize(), schemas: schemas, logger: cfg.Logger}
}

// List handles GET /api/v1/admin/{source}.
func (h *Handler) List(source upstream.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.store == nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "record store not configured", nil)
			return
		}
		schema := h.schemas[source]
		q, err := ParseQuery(r, h.limits, schema)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		snap, origin, err := h.store.Get(r.Context(), source, Refresh(r))
		if err != nil {
			h.logger.Error().Err(err).Str("source", string(source)).Msg("records_load_failed")
			common.WriteError(w, upstream.ToAppError(err))
			return
		}

		start := time.Now()
		result := view.Compute(snap.Records, q, schema)
		obs.ObserveView(string(source), float64(time.Since(start).Microseconds())/1000)

		w.Header().Set("X-Total-Count", strconv.Itoa(result.Pagination.Total))
		w.Header().Set(HeaderFingerprint, q.Fingerprint())
		w.Header().Set("X-Records-Origin", string(origin))
		common.JSON(w, http.StatusOK, result)
	}
}
