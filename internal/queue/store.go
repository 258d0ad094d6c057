package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrStoreUnavailable is returned when no database is configured.
	ErrStoreUnavailable = errors.New("queue: store unavailable")
	// ErrEntryNotFound is returned for unknown dead letter ids.
	ErrEntryNotFound = errors.New("queue: dlq entry not found")
)

// Store persists dead letters.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
}

// DLQEntry is a task that exhausted its attempts. Payload holds the full
// task message so the entry can be replayed as is.
type DLQEntry struct {
	ID             uuid.UUID `db:"id"`
	Kind           string    `db:"kind"`
	IdempotencyKey string    `db:"idem_key"`
	Payload        []byte    `db:"payload"`
	Attempts       int       `db:"attempts"`
	LastError      *string   `db:"last_error"`
	CreatedAt      time.Time `db:"created_at"`
}

// DB is the subset of pgxpool.Pool used by the DLQ store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewStore returns a Store on the queue_dlq table.
func NewStore(db DB) Store {
	return &pgStore{db: db}
}

type pgStore struct {
	db DB
}

const (
	selectDLQ = `SELECT id, kind, idem_key, payload, attempts, last_error, created_at FROM queue_dlq`
	kindMatch = `($1 = '' OR kind = $1)`
)

func (s *pgStore) conn() (DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	return s.db, nil
}

func (s *pgStore) InsertQueueDlq(ctx context.Context, e DLQEntry) (uuid.UUID, error) {
	db, err := s.conn()
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = db.QueryRow(ctx,
		`INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		e.Kind, e.IdempotencyKey, e.Payload, e.Attempts, e.LastError,
	).Scan(&id)
	return id, err
}

func (s *pgStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	return err
}

func (s *pgStore) GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	db, err := s.conn()
	if err != nil {
		return DLQEntry{}, err
	}
	rows, err := db.Query(ctx, selectDLQ+` WHERE id = $1`, id)
	if err != nil {
		return DLQEntry{}, err
	}
	e, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[DLQEntry])
	if errors.Is(err, pgx.ErrNoRows) {
		return DLQEntry{}, ErrEntryNotFound
	}
	return e, err
}

// ListQueueDlq returns entries newest first. limit is clamped to [1, 500].
func (s *pgStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, selectDLQ+` WHERE `+kindMatch+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		strings.TrimSpace(kind), min(max(limit, 1), 500), max(offset, 0))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[DLQEntry])
}

func (s *pgStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.QueryRow(ctx, `SELECT count(*) FROM queue_dlq WHERE `+kindMatch, strings.TrimSpace(kind)).Scan(&n)
	return n, err
}
