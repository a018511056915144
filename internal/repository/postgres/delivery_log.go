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

type deliveryLogRepository struct {
	BaseRepository
	events        repository.EventRepository
	subscriptions repository.SubscriptionRepository
}

func NewDeliveryLogRepository(base BaseRepository, events repository.EventRepository, subscriptions repository.SubscriptionRepository) repository.DeliveryLogRepository {
	return &deliveryLogRepository{
		BaseRepository: base,
		events:         events,
		subscriptions:  subscriptions,
	}
}

const deliveryLogColumns = `
	id, event_id, subscription_id, status, attempt_number,
	http_status_code, response_body, error_message, latency_ms,
	attempted_at, next_retry_at, created_at, updated_at
`

func (r *deliveryLogRepository) GetWithRefs(ctx context.Context, id uuid.UUID) (*model.EventDeliveryLog, error) {
	query := `
		SELECT ` + deliveryLogColumns + `
		FROM event_delivery_logs
		WHERE id = $1
	`

	var log model.EventDeliveryLog
	err := r.db.GetContext(ctx, &log, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery log: %w", err)
	}

	event, err := r.events.Get(ctx, log.EventID)
	if err != nil {
		return nil, err
	}

	sub, err := r.subscriptions.Get(ctx, log.SubscriptionID)
	if err != nil {
		return nil, err
	}

	log.Event = event
	log.Subscription = sub
	return &log, nil
}

func (r *deliveryLogRepository) ClaimAttempt(ctx context.Context, id uuid.UUID, expectedAttempt int, attemptedAt time.Time) (bool, error) {
	// The conditional write is the claim: a racing runner that already
	// incremented attempt_number makes this a zero-row update.
	query := `
		UPDATE event_delivery_logs
		SET attempt_number = attempt_number + 1,
		    attempted_at = $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND attempt_number = $3
		  AND status IN ($4, $5)
	`

	res, err := r.db.ExecContext(ctx, query, attemptedAt, id, expectedAttempt,
		model.DeliveryStatusPending, model.DeliveryStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to claim delivery attempt: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return n == 1, nil
}

func (r *deliveryLogRepository) RecordOutcome(ctx context.Context, log *model.EventDeliveryLog) error {
	query := `
		UPDATE event_delivery_logs
		SET status = $1,
		    http_status_code = $2,
		    response_body = $3,
		    error_message = $4,
		    latency_ms = $5,
		    next_retry_at = $6,
		    updated_at = NOW()
		WHERE id = $7
	`

	_, err := r.db.ExecContext(ctx, query,
		log.Status,
		log.HTTPStatusCode,
		log.ResponseBody,
		log.ErrorMessage,
		log.LatencyMs,
		log.NextRetryAt,
		log.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery outcome: %w", err)
	}
	return nil
}

func (r *deliveryLogRepository) ListPending(ctx context.Context, limit int) ([]*model.EventDeliveryLog, error) {
	// Oldest attempted_at first so no pending delivery starves.
	query := `
		SELECT ` + deliveryLogColumns + `
		FROM event_delivery_logs
		WHERE status = $1
		ORDER BY attempted_at ASC
		LIMIT $2
	`

	var logs []*model.EventDeliveryLog
	err := r.db.SelectContext(ctx, &logs, query, model.DeliveryStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deliveries: %w", err)
	}
	return logs, nil
}

func (r *deliveryLogRepository) ListDueForRetry(ctx context.Context, maxRetries, limit int, now time.Time) ([]*model.EventDeliveryLog, error) {
	query := `
		SELECT ` + deliveryLogColumns + `
		FROM event_delivery_logs
		WHERE status = $1
		  AND attempt_number < $2
		  AND next_retry_at IS NOT NULL
		  AND next_retry_at <= $3
		ORDER BY next_retry_at ASC
		LIMIT $4
	`

	var logs []*model.EventDeliveryLog
	err := r.db.SelectContext(ctx, &logs, query, model.DeliveryStatusFailed, maxRetries, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries due for retry: %w", err)
	}
	return logs, nil
}

func (r *deliveryLogRepository) ListExhausted(ctx context.Context, maxRetries int) ([]*model.EventDeliveryLog, error) {
	query := `
		SELECT d.id, d.event_id, d.subscription_id, d.status, d.attempt_number,
		       d.http_status_code, d.response_body, d.error_message, d.latency_ms,
		       d.attempted_at, d.next_retry_at, d.created_at, d.updated_at
		FROM event_delivery_logs d
		WHERE d.status = $1
		  AND d.attempt_number >= $2
		ORDER BY d.attempted_at ASC
	`

	var logs []*model.EventDeliveryLog
	err := r.db.SelectContext(ctx, &logs, query, model.DeliveryStatusFailed, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to list exhausted deliveries: %w", err)
	}

	for _, log := range logs {
		event, err := r.events.Get(ctx, log.EventID)
		if err != nil {
			return nil, fmt.Errorf("failed to load event for exhausted delivery: %w", err)
		}
		log.Event = event
	}
	return logs, nil
}
