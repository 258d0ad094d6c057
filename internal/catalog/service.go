// Package catalog manages eSIM packages: catalogue CRUD through the admin
// API and the bulk price calculator with its preview and apply flows.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/events"
	"github.com/noah-isme/esim-admin/internal/queue"
	"github.com/noah-isme/esim-admin/internal/records"
	"github.com/noah-isme/esim-admin/internal/upstream"
	"github.com/noah-isme/esim-admin/internal/view"
)

// API is the slice of the admin API client used for packages.
type API interface {
	CreatePackage(ctx context.Context, fields map[string]any) (view.Record, error)
	UpdatePackage(ctx context.Context, id string, fields map[string]any) (view.Record, error)
	UpdatePackagePrice(ctx context.Context, id string, price float64) error
	DeletePackage(ctx context.Context, id string) error
}

// Records loads and invalidates package snapshots. records.Store satisfies it.
type Records interface {
	Get(ctx context.Context, source upstream.Source, refresh bool) (*records.Snapshot, records.Origin, error)
	Invalidate(ctx context.Context, source upstream.Source)
}

// Locker runs fn under an exclusive lock, failing fast (TryLock) or
// waiting (WithLock). lock.Locker satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Enqueuer submits background tasks. queue.Enqueuer satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// JobStatuses persists job progress. queue.StatusStore satisfies it.
type JobStatuses interface {
	Set(ctx context.Context, st queue.JobStatus) error
	Get(ctx context.Context, id string) (queue.JobStatus, error)
}

// Service coordinates package mutations and bulk pricing.
type Service struct {
	api         API
	records     Records
	events      events.Emitter
	locker      Locker
	queue       Enqueuer
	jobs        JobStatuses
	concurrency int
	lockTTL     time.Duration
	newID       func() string
	logger      zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	API     API
	Records Records
	Events  events.Emitter
	Locker  Locker
	Queue   Enqueuer
	Jobs    JobStatuses
	// Concurrency bounds parallel price writes during apply.
	Concurrency int
	LockTTL     time.Duration
	NewID       func() string
	Logger      zerolog.Logger
}

// NewService validates cfg and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.API == nil {
		return nil, errors.New("catalog: api client is required")
	}
	if cfg.Records == nil {
		return nil, errors.New("catalog: record store is required")
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 4
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		api:         cfg.API,
		records:     cfg.Records,
		events:      cfg.Events,
		locker:      cfg.Locker,
		queue:       cfg.Queue,
		jobs:        cfg.Jobs,
		concurrency: conc,
		lockTTL:     ttl,
		newID:       newID,
		logger:      cfg.Logger,
	}, nil
}

// CreateInput describes a new catalogue package.
type CreateInput struct {
	Name       string   `json:"name" validate:"required,max=200"`
	Countries  []string `json:"countries" validate:"omitempty,dive,required,max=100"`
	Region     string   `json:"region" validate:"omitempty,max=100"`
	DataVolume string   `json:"dataVolume" validate:"required,max=50"`
	Validity   string   `json:"validity" validate:"omitempty,max=50"`
	Price      *float64 `json:"price" validate:"required,gte=0"`
}

func (in CreateInput) fields() map[string]any {
	out := map[string]any{
		"name":       strings.TrimSpace(in.Name),
		"dataVolume": strings.TrimSpace(in.DataVolume),
		"price":      *in.Price,
	}
	if len(in.Countries) > 0 {
		out["countries"] = trimAll(in.Countries)
	}
	if v := strings.TrimSpace(in.Region); v != "" {
		out["region"] = v
	}
	if v := strings.TrimSpace(in.Validity); v != "" {
		out["validity"] = v
	}
	return out
}

// UpdateInput lists editable package fields. Nil fields are left as is.
type UpdateInput struct {
	Name       *string  `json:"name" validate:"omitempty,min=1,max=200"`
	Countries  []string `json:"countries" validate:"omitempty,dive,required,max=100"`
	Region     *string  `json:"region" validate:"omitempty,max=100"`
	DataVolume *string  `json:"dataVolume" validate:"omitempty,min=1,max=50"`
	Validity   *string  `json:"validity" validate:"omitempty,max=50"`
	Price      *float64 `json:"price" validate:"omitempty,gte=0"`
}

func (in UpdateInput) fields() map[string]any {
	out := make(map[string]any, 6)
	str := func(key string, v *string) {
		if v != nil {
			out[key] = strings.TrimSpace(*v)
		}
	}
	str("name", in.Name)
	str("region", in.Region)
	str("dataVolume", in.DataVolume)
	str("validity", in.Validity)
	if in.Countries != nil {
		out["countries"] = trimAll(in.Countries)
	}
	if in.Price != nil {
		out["price"] = *in.Price
	}
	return out
}

// Create adds a package to the catalogue.
func (s *Service) Create(ctx context.Context, in CreateInput) (view.Record, error) {
	rec, err := s.api.CreatePackage(ctx, in.fields())
	if err != nil {
		return nil, upstream.ToAppError(err)
	}
	s.changed(ctx, events.TopicPackageCreated, rec.ID(), map[string]any{"name": rec.String("name")})
	return rec, nil
}

// Update changes package fields.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (view.Record, error) {
	fields := in.fields()
	if len(fields) == 0 {
		return nil, common.BadRequest("body", "no fields to update", nil)
	}
	rec, err := s.api.UpdatePackage(ctx, id, fields)
	if err != nil {
		return nil, upstream.ToAppError(err)
	}
	s.changed(ctx, events.TopicPackageUpdated, id, map[string]any{"fields": sortedKeys(fields)})
	return rec, nil
}

// Delete removes a package.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.api.DeletePackage(ctx, id); err != nil {
		return upstream.ToAppError(err)
	}
	s.changed(ctx, events.TopicPackageDeleted, id, nil)
	return nil
}

func (s *Service) changed(ctx context.Context, topic, id string, payload any) {
	s.records.Invalidate(ctx, upstream.SourcePackages)
	if s.events == nil || id == "" {
		return
	}
	if _, err := s.events.Emit(ctx, topic, id, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Str("package_id", id).Msg("package_event_failed")
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for _, k := range []string{"name", "countries", "region", "dataVolume", "validity", "price"} {
		if _, ok := m[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
