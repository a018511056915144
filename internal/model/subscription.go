package model

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryMethod string

const (
	DeliveryMethodWebhook    DeliveryMethod = "webhook"
	DeliveryMethodQueue      DeliveryMethod = "queue"
	DeliveryMethodDirectCall DeliveryMethod = "direct_call"
)

type RetryPolicy string

const (
	RetryPolicyNone        RetryPolicy = "none"
	RetryPolicyLinear      RetryPolicy = "linear"
	RetryPolicyExponential RetryPolicy = "exponential"
)

const DefaultTimeoutSeconds = 30

// EventSubscription describes one subscriber system's standing request to
// receive events. Administrators create these; the engine only ever writes
// the failure-tracking fields.
//
// When DisableAfterFailures is positive and ConsecutiveFailures reaches it,
// the subscription deactivates itself and deliveries to it are skipped until
// an administrator re-enables it. Zero means never auto-disable.
type EventSubscription struct {
	ID                   uuid.UUID      `db:"id" json:"id"`
	SubscriptionCode     string         `db:"subscription_code" json:"subscription_code"`
	SubscriberSystem     string         `db:"subscriber_system" json:"subscriber_system"`
	DeliveryMethod       DeliveryMethod `db:"delivery_method" json:"delivery_method"`
	DeliveryEndpoint     *string        `db:"delivery_endpoint" json:"delivery_endpoint,omitempty"`
	RetryPolicy          RetryPolicy    `db:"retry_policy" json:"retry_policy"`
	MaxRetries           int            `db:"max_retries" json:"max_retries"`
	TimeoutSeconds       int            `db:"timeout_seconds" json:"timeout_seconds"`
	Secret               *string        `db:"secret" json:"-"`
	IsActive             bool           `db:"is_active" json:"is_active"`
	ConsecutiveFailures  int            `db:"consecutive_failures" json:"consecutive_failures"`
	DisableAfterFailures int            `db:"disable_after_failures" json:"disable_after_failures"`
	DisabledReason       *string        `db:"disabled_reason" json:"disabled_reason,omitempty"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updated_at"`
}

// Endpoint returns the configured delivery endpoint or "".
func (s *EventSubscription) Endpoint() string {
	if s.DeliveryEndpoint == nil {
		return ""
	}
	return *s.DeliveryEndpoint
}

// Timeout returns the per-call delivery timeout for this subscription.
func (s *EventSubscription) Timeout() time.Duration {
	secs := s.TimeoutSeconds
	if secs <= 0 {
		secs = DefaultTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}
