// Package refund reviews refund requests: status transitions are checked
// against the cached refund list before they are sent to the admin API.
package refund

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/events"
	"github.com/noah-isme/esim-admin/internal/records"
	"github.com/noah-isme/esim-admin/internal/upstream"
	"github.com/noah-isme/esim-admin/internal/view"
)

// Status is the review state of a refund request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusCompleted, StatusRejected},
}

// ErrInvalidTransition is returned when the current status does not allow
// the requested one.
var ErrInvalidTransition = errors.New("refund: status transition not allowed")

// CanTransition reports whether from may move to to. Unknown current states
// are left to the admin API to judge.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending, StatusApproved:
	case StatusRejected, StatusCompleted:
		return false
	default:
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// API is the slice of the admin API client used for refunds.
type API interface {
	UpdateRefundStatus(ctx context.Context, id, status, note string) (view.Record, error)
}

// Records loads and invalidates refund snapshots. records.Store satisfies it.
type Records interface {
	Get(ctx context.Context, source upstream.Source, refresh bool) (*records.Snapshot, records.Origin, error)
	Invalidate(ctx context.Context, source upstream.Source)
}

// Service reviews refunds.
type Service struct {
	api     API
	records Records
	events  events.Emitter
	logger  zerolog.Logger
}

// ServiceConfig configures the Service dependencies.
type ServiceConfig struct {
	API     API
	Records Records
	Events  events.Emitter
	Logger  zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.API == nil {
		return nil, errors.New("refund: api client is required")
	}
	return &Service{api: cfg.API, records: cfg.Records, events: cfg.Events, logger: cfg.Logger}, nil
}

// UpdateInput is the review decision.
type UpdateInput struct {
	Status Status `json:"status" validate:"required,oneof=approved rejected completed"`
	Note   string `json:"adminNote" validate:"max=1000"`
}

// UpdateStatus moves a refund to in.Status.
func (s *Service) UpdateStatus(ctx context.Context, id string, in UpdateInput) (view.Record, error) {
	current := s.currentStatus(ctx, id)
	if current != "" && !CanTransition(current, in.Status) {
		return nil, &common.AppError{
			Code:       "INVALID_STATE",
			Message:    "cannot move refund from " + string(current) + " to " + string(in.Status),
			HTTPStatus: http.StatusConflict,
			Err:        ErrInvalidTransition,
		}
	}
	rec, err := s.api.UpdateRefundStatus(ctx, id, string(in.Status), strings.TrimSpace(in.Note))
	if err != nil {
		return nil, upstream.ToAppError(err)
	}
	if s.records != nil {
		s.records.Invalidate(ctx, upstream.SourceRefunds)
	}
	if s.events != nil {
		payload := map[string]any{"from": current, "to": in.Status}
		if _, err := s.events.Emit(ctx, events.TopicRefundUpdated, id, payload); err != nil {
			s.logger.Warn().Err(err).Str("refund_id", id).Msg("refund_event_failed")
		}
	}
	return rec, nil
}

// currentStatus looks the refund up in the cached list. An empty result
// means unknown.
func (s *Service) currentStatus(ctx context.Context, id string) Status {
	if s.records == nil {
		return ""
	}
	snap, _, err := s.records.Get(ctx, upstream.SourceRefunds, false)
	if err != nil {
		s.logger.Debug().Err(err).Msg("refund_snapshot_unavailable")
		return ""
	}
	for _, r := range snap.Records {
		if r.ID() == id {
			return Status(strings.ToLower(strings.TrimSpace(r.String("status"))))
		}
	}
	return ""
}
