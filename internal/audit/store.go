package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is a persisted audit record.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	ActorKind string          `json:"actorKind"`
	Actor     *string         `json:"actor,omitempty"`
	Action    string          `json:"action"`
	Resource  string          `json:"resource"`
	SessionID *uuid.UUID      `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Path      string          `json:"path"`
	Route     *string         `json:"route,omitempty"`
	Status    int32           `json:"status"`
	IP        *string         `json:"ip,omitempty"`
	UserAgent *string         `json:"userAgent,omitempty"`
	RequestID *string         `json:"requestId,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ListParams filters and paginates audit queries.
type ListParams struct {
	SessionID *uuid.UUID
	Limit     int32
	Offset    int32
}

// Store defines the persistence operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, entry Entry) (uuid.UUID, error)
	ListAuditLogs(ctx context.Context, params ListParams) ([]Entry, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by Postgres.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

const entryColumns = "id, actor_kind, actor, action, resource, session_id, method, path, route, status, ip, user_agent, request_id, details, created_at"

func (s *pgStore) InsertAuditLog(ctx context.Context, entry Entry) (uuid.UUID, error) {
	if s.pool == nil {
		return uuid.Nil, errors.New("audit: store not configured")
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO audit_log (actor_kind, actor, action, resource, session_id, method, path, route, status, ip, user_agent, request_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		entry.ActorKind, entry.Actor, entry.Action, entry.Resource, entry.SessionID,
		entry.Method, entry.Path, entry.Route, entry.Status, entry.IP, entry.UserAgent,
		entry.RequestID, entry.Details,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *pgStore) ListAuditLogs(ctx context.Context, params ListParams) ([]Entry, error) {
	if s.pool == nil {
		return nil, errors.New("audit: store not configured")
	}
	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	query := "SELECT " + entryColumns + " FROM audit_log"
	args := []any{}
	if params.SessionID != nil {
		query += " WHERE session_id = $1"
		args = append(args, *params.SessionID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.ActorKind, &e.Actor, &e.Action, &e.Resource, &e.SessionID,
			&e.Method, &e.Path, &e.Route, &e.Status, &e.IP, &e.UserAgent,
			&e.RequestID, &e.Details, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
