package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/obs"
)

// ActorKind says who performed an audited mutation.
type ActorKind string

const (
	ActorKindAdmin     ActorKind = "admin"   // dashboard operator with a JWT
	ActorKindService   ActorKind = "service" // caller holding an API key
	ActorKindSystem    ActorKind = "system"  // bulk-price worker and other jobs
	ActorKindAnonymous ActorKind = "anonymous"
)

func (k ActorKind) known() ActorKind {
	switch k {
	case ActorKindAdmin, ActorKindService, ActorKindSystem:
		return k
	}
	return ActorKindAnonymous
}

type Actor struct {
	Kind ActorKind
	ID   *string
}

// Entry is one persisted audit record.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	ActorKind    string          `json:"actorKind"`
	ActorID      *string         `json:"actorId,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   *string         `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Route        *string         `json:"route,omitempty"`
	Status       int             `json:"status"`
	IP           *string         `json:"ip,omitempty"`
	UserAgent    *string         `json:"userAgent,omitempty"`
	RequestID    *string         `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ListParams filters audit entries. Empty strings match everything.
type ListParams struct {
	Limit        int
	Offset       int
	Action       string
	ResourceType string
	ResourceID   string
}

type Store interface {
	Insert(ctx context.Context, e Entry) error
	List(ctx context.Context, p ListParams) ([]Entry, error)
}

// Mutation describes one admin write that reached a handler. Action and
// Resource fall back to values derived from the matched route.
type Mutation struct {
	Actor      Actor
	Action     string
	Resource   string
	ResourceID string
	Request    *http.Request
	Status     int
	Metadata   []byte
}

// Service persists audit entries for admin mutations. A SampleRate in (0,1)
// keeps roughly that fraction of entries.
type Service struct {
	Store      Store
	Enabled    bool
	SampleRate float64
	Now        func() time.Time
}

func (s Service) sampledOut() bool {
	return s.SampleRate > 0 && s.SampleRate < 1 && rand.Float64() > s.SampleRate
}

func (s Service) Record(ctx context.Context, m Mutation) error {
	if !s.Enabled || s.sampledOut() {
		return nil
	}
	switch {
	case s.Store == nil:
		return errors.New("audit: store not configured")
	case m.Request == nil:
		return errors.New("audit: request is required")
	}
	return s.Store.Insert(ctx, s.entry(m))
}

func (s Service) entry(m Mutation) Entry {
	r := m.Request
	route := obs.Route(r.Context())
	if route == "" {
		route = strings.TrimSpace(r.URL.Path)
	}
	at := time.Now()
	if s.Now != nil {
		at = s.Now()
	}
	e := Entry{
		ID:           uuid.New(),
		ActorKind:    string(m.Actor.Kind.known()),
		Action:       strings.TrimSpace(m.Action),
		ResourceType: strings.TrimSpace(m.Resource),
		ResourceID:   optional(m.ResourceID),
		Method:       r.Method,
		Path:         r.URL.Path,
		Route:        optional(route),
		Status:       m.Status,
		IP:           optional(common.ClientIP(r)),
		UserAgent:    optional(r.UserAgent()),
		RequestID:    optional(r.Header.Get("X-Request-ID")),
		Metadata:     metadataOrQuery(m.Metadata, r.URL.RawQuery),
		CreatedAt:    at.UTC(),
	}
	if m.Actor.ID != nil {
		e.ActorID = optional(*m.Actor.ID)
	}
	if e.Action == "" {
		e.Action = strings.ToUpper(r.Method) + " " + cmpOr(route, "/")
	}
	if e.ResourceType == "" {
		e.ResourceType = resourceFromRoute(route)
	}
	if e.Status == 0 {
		e.Status = http.StatusOK
	}
	return e
}

// resourceFromRoute turns "/api/v1/admin/users/{id}/status" into
// "users.status".
func resourceFromRoute(route string) string {
	segs := strings.Split(strings.Trim(route, "/"), "/")
	segs = trimPrefix(segs, "api", "v1")
	segs = trimPrefix(segs, "admin")
	var named []string
	for _, seg := range segs {
		if seg != "" && !strings.HasPrefix(seg, "{") {
			named = append(named, seg)
		}
	}
	if len(named) == 0 {
		return "unknown"
	}
	return strings.Join(named, ".")
}

func trimPrefix(segs []string, prefix ...string) []string {
	if len(segs) < len(prefix) {
		return segs
	}
	for i, p := range prefix {
		if segs[i] != p {
			return segs
		}
	}
	return segs[len(prefix):]
}

func optional(v string) *string {
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	return &v
}

func cmpOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func metadataOrQuery(meta []byte, query string) json.RawMessage {
	switch {
	case len(meta) > 0:
		return meta
	case strings.TrimSpace(query) == "":
		return nil
	}
	raw, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil
	}
	return raw
}
