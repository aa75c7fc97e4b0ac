package store

import (
	"context"

	"github.com/google/uuid"
)

// InsertDomainEvent appends an event to the domain event log and returns the
// generated identifier.
func (s *Store) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (uuid.UUID, error) {
	if s == nil || s.pool == nil {
		return uuid.Nil, ErrUnavailable
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3) RETURNING id`, topic, aggregateID, payload).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
