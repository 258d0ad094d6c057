package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by PGStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore keeps audit entries in the audit_logs table.
type PGStore struct {
	DB DB
}

const insertAuditLog = `
INSERT INTO audit_logs (
	id, actor_kind, actor_id, action, resource_type, resource_id,
	method, path, route, status, ip, user_agent, request_id, metadata, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

// Insert stores e.
func (s PGStore) Insert(ctx context.Context, e Entry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = []byte(e.Metadata)
	}
	_, err := s.DB.Exec(ctx, insertAuditLog,
		e.ID, e.ActorKind, e.ActorID, e.Action, e.ResourceType, e.ResourceID,
		e.Method, e.Path, e.Route, e.Status, e.IP, e.UserAgent, e.RequestID, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

const listAuditLogs = `
SELECT id, actor_kind, actor_id, action, resource_type, resource_id,
	method, path, route, status, ip, user_agent, request_id, metadata, created_at
FROM audit_logs
WHERE ($1 = '' OR action = $1)
	AND ($2 = '' OR resource_type = $2)
	AND ($3 = '' OR resource_id = $3)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5`

// List returns entries newest first.
func (s PGStore) List(ctx context.Context, p ListParams) ([]Entry, error) {
	rows, err := s.DB.Query(ctx, listAuditLogs, p.Action, p.ResourceType, p.ResourceID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, p.Limit)
	for rows.Next() {
		var (
			e        Entry
			id       uuid.UUID
			status   int32
			metadata []byte
			created  time.Time
		)
		if err := rows.Scan(&id, &e.ActorKind, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Method, &e.Path, &e.Route, &status, &e.IP, &e.UserAgent, &e.RequestID, &metadata, &created); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.ID = id
		e.Status = int(status)
		e.Metadata = metadata
		e.CreatedAt = created
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return out, nil
}
