package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/grc-events/internal/model"
	"github.com/jwalitptl/grc-events/internal/repository"
)

type eventRepository struct {
	BaseRepository
}

func NewEventRepository(base BaseRepository) repository.EventRepository {
	return &eventRepository{base}
}

func (r *eventRepository) Get(ctx context.Context, id uuid.UUID) (*model.DomainEvent, error) {
	query := `
		SELECT id, event_type, object_type, object_id, payload_json,
		       schema_version, status, occurred_at, processed_at,
		       created_at, updated_at
		FROM domain_events
		WHERE id = $1
	`

	var event model.DomainEvent
	err := r.db.GetContext(ctx, &event, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

func (r *eventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	query := `
		UPDATE domain_events
		SET status = $1, processed_at = $2, updated_at = NOW()
		WHERE id = $3
	`

	res, err := r.db.ExecContext(ctx, query, model.EventStatusProcessed, processedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
