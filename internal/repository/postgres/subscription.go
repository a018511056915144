package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/grc-events/internal/model"
	"github.com/jwalitptl/grc-events/internal/repository"
)

type subscriptionRepository struct {
	BaseRepository
}

func NewSubscriptionRepository(base BaseRepository) repository.SubscriptionRepository {
	return &subscriptionRepository{base}
}

const subscriptionColumns = `
	id, subscription_code, subscriber_system, delivery_method,
	delivery_endpoint, retry_policy, max_retries, timeout_seconds,
	secret, is_active, consecutive_failures, disable_after_failures,
	disabled_reason, created_at, updated_at
`

func (r *subscriptionRepository) Get(ctx context.Context, id uuid.UUID) (*model.EventSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM event_subscriptions
		WHERE id = $1
	`

	var sub model.EventSubscription
	err := r.db.GetContext(ctx, &sub, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) RecordFailure(ctx context.Context, id uuid.UUID, reason string) (int, bool, error) {
	// Increment and, if the threshold is hit, disable in one statement so a
	// racing runner cannot observe the counter past the threshold while the
	// subscription is still active. The is_active guard keeps the reason
	// from being rewritten by failures recorded after the flip.
	query := `
		UPDATE event_subscriptions
		SET consecutive_failures = consecutive_failures + 1,
		    is_active = CASE
		        WHEN is_active
		             AND disable_after_failures > 0
		             AND consecutive_failures + 1 >= disable_after_failures
		        THEN FALSE ELSE is_active END,
		    disabled_reason = CASE
		        WHEN is_active
		             AND disable_after_failures > 0
		             AND consecutive_failures + 1 >= disable_after_failures
		        THEN $1 ELSE disabled_reason END,
		    updated_at = NOW()
		WHERE id = $2
		RETURNING consecutive_failures, is_active
	`

	var row struct {
		ConsecutiveFailures int  `db:"consecutive_failures"`
		IsActive            bool `db:"is_active"`
	}
	err := r.db.GetContext(ctx, &row, query, reason, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, repository.ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to record subscription failure: %w", err)
	}
	return row.ConsecutiveFailures, row.IsActive, nil
}

func (r *subscriptionRepository) ResetFailures(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE event_subscriptions
		SET consecutive_failures = 0,
		    updated_at = NOW()
		WHERE id = $1
		  AND consecutive_failures <> 0
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to reset subscription failures: %w", err)
	}
	return nil
}
