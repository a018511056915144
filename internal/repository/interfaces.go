package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/grc-events/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// All repository interfaces in one file
type (
	// EventRepository reads domain events and records their processing.
	EventRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.DomainEvent, error)
		// MarkProcessed stamps the event processed. Called on the first
		// successful delivery for the event, not after full fan-out;
		// callers needing fan-out completion must track delivery logs.
		MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	}

	// SubscriptionRepository reads subscriptions and tracks their delivery
	// health. Subscriptions are administered elsewhere; the engine only
	// writes the consecutive-failure counter and the auto-disable flip.
	SubscriptionRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.EventSubscription, error)

		// RecordFailure increments consecutive_failures and, when the count
		// reaches the subscription's disable_after_failures threshold while
		// it is still active, deactivates it with the given reason in the
		// same statement. Returns the post-update counter and active flag so
		// callers can tell the flipping failure from later ones.
		RecordFailure(ctx context.Context, id uuid.UUID, reason string) (int, bool, error)

		// ResetFailures zeroes consecutive_failures after a successful
		// delivery.
		ResetFailures(ctx context.Context, id uuid.UUID) error
	}

	// DeliveryLogRepository owns the engine's unit of work.
	DeliveryLogRepository interface {
		// GetWithRefs loads a delivery log joined with its event and
		// subscription. Returns ErrNotFound if any of the three is missing.
		GetWithRefs(ctx context.Context, id uuid.UUID) (*model.EventDeliveryLog, error)

		// ClaimAttempt increments attempt_number and stamps attempted_at,
		// conditional on the stored attempt_number still being
		// expectedAttempt and the status being non-terminal. Returns false
		// when the claim was lost to another runner or the log is terminal.
		ClaimAttempt(ctx context.Context, id uuid.UUID, expectedAttempt int, attemptedAt time.Time) (bool, error)

		// RecordOutcome writes the attempt's result back in one statement.
		RecordOutcome(ctx context.Context, log *model.EventDeliveryLog) error

		// ListPending returns up to limit pending logs, oldest
		// attempted_at first.
		ListPending(ctx context.Context, limit int) ([]*model.EventDeliveryLog, error)

		// ListDueForRetry returns up to limit failed logs with attempts
		// below maxRetries and next_retry_at due, soonest first.
		ListDueForRetry(ctx context.Context, maxRetries, limit int, now time.Time) ([]*model.EventDeliveryLog, error)

		// ListExhausted returns failed logs whose attempts reached
		// maxRetries, joined with their events for dead-lettering.
		ListExhausted(ctx context.Context, maxRetries int) ([]*model.EventDeliveryLog, error)
	}

	// DeadLetterRepository quarantines deliveries that ran out of retries.
	DeadLetterRepository interface {
		// MoveFromDeliveryLog inserts the entry and flips the source log to
		// skipped in one transaction. Returns false without writing when the
		// log is no longer failed, so re-running the mover is a no-op.
		MoveFromDeliveryLog(ctx context.Context, entry *model.DeadLetterEntry, deliveryLogID uuid.UUID) (bool, error)
	}
)
