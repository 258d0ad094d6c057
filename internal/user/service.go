package user

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/events"
	"github.com/noah-isme/esim-admin/internal/records"
	"github.com/noah-isme/esim-admin/internal/upstream"
	"github.com/noah-isme/esim-admin/internal/view"
)

// API is the slice of the admin API client used for user management.
type API interface {
	UpdateUser(ctx context.Context, id string, fields map[string]any) (view.Record, error)
	SetUserActive(ctx context.Context, id string, active bool) error
	DeleteUser(ctx context.Context, id string) error
}

// UpdateInput lists the editable profile fields. Nil fields are left as is.
type UpdateInput struct {
	FirstName *string `json:"firstName" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"lastName" validate:"omitempty,max=100"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Phone     *string `json:"phone" validate:"omitempty,min=5,max=20"`
}

func (in UpdateInput) fields() map[string]any {
	out := make(map[string]any, 4)
	put := func(key string, v *string) {
		if v != nil {
			out[key] = strings.TrimSpace(*v)
		}
	}
	put("firstName", in.FirstName)
	put("lastName", in.LastName)
	put("email", in.Email)
	put("phone", in.Phone)
	return out
}

// Service performs user mutations against the admin API and keeps the
// cached user list coherent.
type Service struct {
	api     API
	records records.Invalidator
	events  events.Emitter
	logger  zerolog.Logger
}

// ServiceConfig configures the Service dependencies.
type ServiceConfig struct {
	API     API
	Records records.Invalidator
	Events  events.Emitter
	Logger  zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.API == nil {
		return nil, errors.New("user: api client is required")
	}
	return &Service{api: cfg.API, records: cfg.Records, events: cfg.Events, logger: cfg.Logger}, nil
}

// Update changes profile fields of a user.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (view.Record, error) {
	fields := in.fields()
	if len(fields) == 0 {
		return nil, common.BadRequest("body", "no fields to update", nil)
	}
	rec, err := s.api.UpdateUser(ctx, id, fields)
	if err != nil {
		return nil, upstream.ToAppError(err)
	}
	s.changed(ctx, events.TopicUserUpdated, id, map[string]any{"fields": keys(fields)})
	return rec, nil
}

// SetActive activates or deactivates a user. The user is kept.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.api.SetUserActive(ctx, id, active); err != nil {
		return upstream.ToAppError(err)
	}
	s.changed(ctx, events.TopicUserStatusChanged, id, map[string]any{"isActive": active})
	return nil
}

// Delete removes a user permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.api.DeleteUser(ctx, id); err != nil {
		return upstream.ToAppError(err)
	}
	s.changed(ctx, events.TopicUserDeleted, id, nil)
	return nil
}

func (s *Service) changed(ctx context.Context, topic, id string, payload any) {
	if s.records != nil {
		s.records.Invalidate(ctx, upstream.SourceUsers)
	}
	if s.events == nil {
		return
	}
	if _, err := s.events.Emit(ctx, topic, id, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Str("user_id", id).Msg("user_event_failed")
	}
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for _, k := range []string{"firstName", "lastName", "email", "phone"} {
		if _, ok := m[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
