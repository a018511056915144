package model

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	// Skipped is written only by the dead-letter move, so every skipped log
	// has exactly one dead letter entry for its event.
	DeliveryStatusSkipped DeliveryStatus = "skipped"
	// Cancelled closes out a delivery whose subscription was deactivated.
	// Nothing was quarantined, so no dead letter entry exists for it.
	DeliveryStatusCancelled DeliveryStatus = "cancelled"
)

// MaxErrorMessageLen bounds the error text stored on a delivery log and a
// dead letter entry. Anything longer is truncated before persisting.
const MaxErrorMessageLen = 2000

// EventDeliveryLog is the dispatcher's unit of work: one row per
// (event, subscription) pair tracking that subscriber's delivery progress.
//
// AttemptNumber only ever increases and is incremented with a conditional
// write, which doubles as the claim that keeps two runners from dispatching
// the same log concurrently. NextRetryAt is null once the log reaches a
// terminal status or runs out of retries.
type EventDeliveryLog struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	EventID        uuid.UUID      `db:"event_id" json:"event_id"`
	SubscriptionID uuid.UUID      `db:"subscription_id" json:"subscription_id"`
	Status         DeliveryStatus `db:"status" json:"status"`
	AttemptNumber  int            `db:"attempt_number" json:"attempt_number"`
	HTTPStatusCode *int           `db:"http_status_code" json:"http_status_code,omitempty"`
	ResponseBody   *string        `db:"response_body" json:"response_body,omitempty"`
	ErrorMessage   *string        `db:"error_message" json:"error_message,omitempty"`
	LatencyMs      *int           `db:"latency_ms" json:"latency_ms,omitempty"`
	AttemptedAt    time.Time      `db:"attempted_at" json:"attempted_at"`
	NextRetryAt    *time.Time     `db:"next_retry_at" json:"next_retry_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`

	Event        *DomainEvent       `db:"-" json:"-"`
	Subscription *EventSubscription `db:"-" json:"-"`
}

// Terminal reports whether the log can never be dispatched again.
func (l *EventDeliveryLog) Terminal() bool {
	switch l.Status {
	case DeliveryStatusDelivered, DeliveryStatusSkipped, DeliveryStatusCancelled:
		return true
	}
	return false
}

// TruncateError bounds msg to MaxErrorMessageLen.
func TruncateError(msg string) string {
	if len(msg) > MaxErrorMessageLen {
		return msg[:MaxErrorMessageLen]
	}
	return msg
}
