package queue_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/esim-admin/internal/queue"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// bulkJob is a bulk price apply payload as the catalog service queues it.
func bulkJob(id string) []byte {
	return []byte(`{"jobId":"` + id + `","request":{"region":"Europe","updateType":"percentage","value":10}}`)
}

// fakeDLQ keeps dead letters in insertion order, newest last.
type fakeDLQ struct {
	mu      sync.Mutex
	entries []queue.DLQEntry
}

func (f *fakeDLQ) InsertQueueDlq(_ context.Context, e queue.DLQEntry) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	f.entries = append(f.entries, e)
	return e.ID, nil
}

func (f *fakeDLQ) DeleteQueueDlq(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = slices.DeleteFunc(f.entries, func(e queue.DLQEntry) bool { return e.ID == id })
	return nil
}

func (f *fakeDLQ) GetQueueDlq(_ context.Context, id uuid.UUID) (queue.DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return queue.DLQEntry{}, queue.ErrEntryNotFound
}

func (f *fakeDLQ) ListQueueDlq(_ context.Context, kind string, limit, offset int) ([]queue.DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []queue.DLQEntry
	for i := len(f.entries) - 1; i >= 0; i-- {
		if kind == "" || f.entries[i].Kind == kind {
			out = append(out, f.entries[i])
		}
	}
	out = out[min(offset, len(out)):]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDLQ) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	all, _ := f.ListQueueDlq(ctx, kind, 0, 0)
	return int64(len(all)), nil
}

func redisZ(score float64, member string) redis.Z {
	return redis.Z{Score: score, Member: member}
}
