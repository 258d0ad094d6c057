// Package records keeps the full record set of every admin API source in
// memory, mirrored to Redis, so views can be computed without refetching.
package records

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/esim-admin/internal/cache"
	"github.com/noah-isme/esim-admin/internal/obs"
	"github.com/noah-isme/esim-admin/internal/upstream"
	"github.com/noah-isme/esim-admin/internal/view"
)

// Origin tells where a snapshot was served from.
type Origin string

const (
	OriginMemory   Origin = "memory"
	OriginRedis    Origin = "redis"
	OriginUpstream Origin = "upstream"
)

// Fetcher loads a full record set. upstream.Client satisfies it.
type Fetcher interface {
	List(ctx context.Context, source upstream.Source) ([]view.Record, error)
}

// Invalidator drops cached snapshots after a mutation. *Store satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, source upstream.Source)
}

// Snapshot is a committed record set. Records must be treated as read-only.
type Snapshot struct {
	Records  []view.Record `json:"records"`
	LoadedAt time.Time     `json:"loadedAt"`
}

type entry struct {
	snap      *Snapshot
	issued    uint64
	committed uint64
}

// Store serves record snapshots per source. Every fetch takes a ticket before
// it starts and a result is only committed when no later ticket has committed
// first, so a slow response can never overwrite a newer one.
type Store struct {
	fetch  Fetcher
	mirror *cache.JSON
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
	limit  time.Duration

	group   singleflight.Group
	mu      sync.Mutex
	entries map[upstream.Source]*entry
}

// Options configures a Store.
type Options struct {
	TTL    time.Duration
	Mirror *cache.JSON
	Logger zerolog.Logger
	Now    func() time.Time

	// FetchTimeout bounds a shared upstream load. It runs detached from the
	// caller that started it so one cancelled request cannot fail the rest.
	FetchTimeout time.Duration
}

const defaultFetchTimeout = 30 * time.Second

// NewStore builds a Store. A zero TTL disables caching entirely.
func NewStore(fetch Fetcher, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limit := opts.FetchTimeout
	if limit <= 0 {
		limit = defaultFetchTimeout
	}
	return &Store{
		fetch:   fetch,
		mirror:  opts.Mirror,
		ttl:     opts.TTL,
		now:     now,
		logger:  opts.Logger,
		limit:   limit,
		entries: make(map[upstream.Source]*entry),
	}
}

func (s *Store) entryLocked(source upstream.Source) *entry {
	e, ok := s.entries[source]
	if !ok {
		e = &entry{}
		s.entries[source] = e
	}
	return e
}

// Begin issues a ticket for a fetch that is about to start.
func (s *Store) Begin(source upstream.Source) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(source)
	e.issued++
	return e.issued
}

// Commit stores snap if ticket is newer than the last committed ticket. It
// returns the snapshot that is current afterwards and whether snap won.
func (s *Store) Commit(source upstream.Source, ticket uint64, snap *Snapshot) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(source)
	if ticket <= e.committed {
		obs.CountStaleCommit(string(source))
		if e.snap != nil {
			return e.snap, false
		}
		return snap, false
	}
	e.committed = ticket
	e.snap = snap
	return snap, true
}

func (s *Store) fresh(snap *Snapshot) bool {
	return snap != nil && s.ttl > 0 && s.now().Sub(snap.LoadedAt) < s.ttl
}

func (s *Store) current(source upstream.Source) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[source]; ok {
		return e.snap
	}
	return nil
}

// Get returns the snapshot of source. refresh bypasses both cache layers.
func (s *Store) Get(ctx context.Context, source upstream.Source, refresh bool) (*Snapshot, Origin, error) {
	if !refresh {
		if snap := s.current(source); s.fresh(snap) {
			obs.CountRecordLoad(string(source), string(OriginMemory))
			return snap, OriginMemory, nil
		}
		if snap, ok := s.fromMirror(ctx, source); ok {
			obs.CountRecordLoad(string(source), string(OriginRedis))
			return snap, OriginRedis, nil
		}
	}

	ch := s.group.DoChan(string(source), func() (any, error) {
		// keeps request values such as the forwarded credential
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.limit)
		defer cancel()
		return s.load(loadCtx, source)
	})
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, "", res.Err
		}
		obs.CountRecordLoad(string(source), string(OriginUpstream))
		return res.Val.(*Snapshot), OriginUpstream, nil
	}
}

func (s *Store) fromMirror(ctx context.Context, source upstream.Source) (*Snapshot, bool) {
	if s.ttl <= 0 || !s.mirror.Enabled() {
		return nil, false
	}
	ticket := s.Begin(source)
	var snap Snapshot
	hit, err := s.mirror.Get(ctx, cache.KeyRecords(string(source)), &snap)
	if err != nil {
		s.logger.Warn().Err(err).Str("source", string(source)).Msg("records_mirror_read_failed")
		return nil, false
	}
	if !hit || !s.fresh(&snap) {
		return nil, false
	}
	if snap.Records == nil {
		snap.Records = []view.Record{}
	}
	current, _ := s.Commit(source, ticket, &snap)
	return current, true
}

func (s *Store) load(ctx context.Context, source upstream.Source) (*Snapshot, error) {
	ticket := s.Begin(source)
	rows, err := s.fetch.List(ctx, source)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Records: rows, LoadedAt: s.now()}
	current, won := s.Commit(source, ticket, snap)
	if won && s.ttl > 0 {
		if err := s.mirror.Set(ctx, cache.KeyRecords(string(source)), snap); err != nil {
			s.logger.Warn().Err(err).Str("source", string(source)).Msg("records_mirror_write_failed")
		}
	}
	s.logger.Debug().
		Str("source", string(source)).
		Uint64("ticket", ticket).
		Bool("committed", won).
		Int("records", len(rows)).
		Msg("records_loaded")
	return current, nil
}

// Invalidate drops the cached snapshot of source after a mutation. Fetches
// already in flight are detached and can no longer commit, so the next Get
// starts a new one.
func (s *Store) Invalidate(ctx context.Context, source upstream.Source) {
	s.group.Forget(string(source))
	s.mu.Lock()
	e := s.entryLocked(source)
	e.snap = nil
	e.committed = e.issued
	s.mu.Unlock()
	if err := s.mirror.Delete(ctx, cache.KeyRecords(string(source))); err != nil {
		s.logger.Warn().Err(err).Str("source", string(source)).Msg("records_mirror_delete_failed")
	}
}

// Warm loads every source, returning the first error.
func (s *Store) Warm(ctx context.Context, sources ...upstream.Source) error {
	for _, src := range sources {
		if _, _, err := s.Get(ctx, src, true); err != nil {
			return err
		}
	}
	return nil
}
