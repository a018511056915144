// Package transport implements the delivery strategies the dispatcher can
// select per subscription: webhook HTTP POST, broker queue hand-off, and
// in-process direct call. Every adapter reports through the same Result so
// the dispatcher never depends on channel specifics.
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/grc-events/internal/model"
)

// Result is the uniform outcome of one delivery attempt over any channel.
type Result struct {
	Success        bool
	HTTPStatusCode *int
	ResponseBody   *string
	ErrorMessage   *string
	LatencyMs      int
}

// Transport delivers one event to one subscriber. Implementations must not
// panic and must honor the subscription's timeout on anything that blocks.
type Transport interface {
	Deliver(ctx context.Context, sub *model.EventSubscription, event *model.DomainEvent, payload json.RawMessage) Result
}

// Envelope is the webhook wire format.
type Envelope struct {
	EventID       uuid.UUID       `json:"EventId"`
	EventType     string          `json:"EventType"`
	ObjectType    string          `json:"ObjectType"`
	ObjectID      uuid.UUID       `json:"ObjectId"`
	Payload       json.RawMessage `json:"Payload"`
	OccurredAt    time.Time       `json:"OccurredAt"`
	SchemaVersion string          `json:"SchemaVersion"`
}

// QueueMessage is the wire format handed to the message broker.
type QueueMessage struct {
	EventID          uuid.UUID       `json:"EventId"`
	SubscriptionCode string          `json:"SubscriptionCode"`
	Payload          json.RawMessage `json:"Payload"`
	Timestamp        time.Time       `json:"Timestamp"`
}

func failure(msg string, latency time.Duration) Result {
	truncated := model.TruncateError(msg)
	return Result{
		Success:      false,
		ErrorMessage: &truncated,
		LatencyMs:    int(latency.Milliseconds()),
	}
}

func success(latency time.Duration) Result {
	return Result{
		Success:   true,
		LatencyMs: int(latency.Milliseconds()),
	}
}
