package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/grc-events/internal/model"
	"github.com/jwalitptl/grc-events/internal/repository"
)

type deadLetterRepository struct {
	BaseRepository
}

func NewDeadLetterRepository(base BaseRepository) repository.DeadLetterRepository {
	return &deadLetterRepository{base}
}

func (r *deadLetterRepository) MoveFromDeliveryLog(ctx context.Context, entry *model.DeadLetterEntry, deliveryLogID uuid.UUID) (bool, error) {
	moved := false

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Flip the log first, conditional on it still being failed. If
		// another mover got here first this updates zero rows and we do
		// not insert a second entry.
		res, err := tx.ExecContext(ctx, `
			UPDATE event_delivery_logs
			SET status = $1, next_retry_at = NULL, updated_at = NOW()
			WHERE id = $2 AND status = $3
		`, model.DeliveryStatusSkipped, deliveryLogID, model.DeliveryStatusFailed)
		if err != nil {
			return fmt.Errorf("failed to skip delivery log: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read skip result: %w", err)
		}
		if n == 0 {
			return nil
		}

		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		now := time.Now().UTC()
		entry.CreatedAt = now
		entry.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `
			INSERT INTO dead_letter_entries (
				id, event_id, entry_type, original_payload_json,
				error_message, failure_count, status, failed_at,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			entry.ID,
			entry.EventID,
			entry.EntryType,
			entry.OriginalPayloadJSON,
			entry.ErrorMessage,
			entry.FailureCount,
			entry.Status,
			entry.FailedAt,
			entry.CreatedAt,
			entry.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert dead letter entry: %w", err)
		}

		moved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}
