package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwalitptl/grc-events/internal/model"
	"github.com/jwalitptl/grc-events/pkg/logger"
	"github.com/jwalitptl/grc-events/pkg/messaging"
)

// DefaultQueueName receives events for subscriptions that do not name a
// queue of their own.
const DefaultQueueName = "default-grc-events"

// QueueTransport hands the event off to the message broker. Success means
// the broker acknowledged the publish; what the subscriber does with the
// message afterward is its own problem.
type QueueTransport struct {
	broker messaging.Broker
	logger *logger.Logger
}

func NewQueueTransport(broker messaging.Broker, logger *logger.Logger) *QueueTransport {
	return &QueueTransport{broker: broker, logger: logger}
}

func (t *QueueTransport) Deliver(ctx context.Context, sub *model.EventSubscription, event *model.DomainEvent, payload json.RawMessage) Result {
	queueName := sub.Endpoint()
	if queueName == "" {
		queueName = DefaultQueueName
	}

	msg := QueueMessage{
		EventID:          event.ID,
		SubscriptionCode: sub.SubscriptionCode,
		Payload:          payload,
		Timestamp:        time.Now().UTC(),
	}

	callCtx, cancel := context.WithTimeout(ctx, sub.Timeout())
	defer cancel()

	start := time.Now()
	err := t.broker.Publish(callCtx, queueName, msg)
	latency := time.Since(start)

	if err != nil {
		return failure(fmt.Sprintf("failed to queue event: %v", err), latency)
	}

	t.logger.Info("event queued", "queue", queueName, "event_id", event.ID.String())

	body := fmt.Sprintf("Queued to %s", queueName)
	result := success(latency)
	result.ResponseBody = &body
	return result
}
