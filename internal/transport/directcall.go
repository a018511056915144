package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/grc-events/internal/model"
	"github.com/jwalitptl/grc-events/pkg/logger"
)

// DefaultHandlerName is used when a direct-call subscription does not name
// a handler.
const DefaultHandlerName = "DefaultEventHandler"

// Handler is an in-process event consumer. A nil error means the event was
// handled.
type Handler func(ctx context.Context, envelope Envelope) error

// DirectCallTransport invokes a registered in-process handler named by the
// subscription endpoint. A handler panic is recovered and reported as a
// delivery failure rather than taking down the runner.
type DirectCallTransport struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *logger.Logger
}

func NewDirectCallTransport(logger *logger.Logger) *DirectCallTransport {
	return &DirectCallTransport{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register binds a handler name to a handler. Registering the same name
// twice replaces the previous handler.
func (t *DirectCallTransport) Register(name string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = h
}

func (t *DirectCallTransport) Deliver(ctx context.Context, sub *model.EventSubscription, event *model.DomainEvent, payload json.RawMessage) (result Result) {
	handlerName := sub.Endpoint()
	if handlerName == "" {
		handlerName = DefaultHandlerName
	}

	t.mu.RLock()
	handler, ok := t.handlers[handlerName]
	t.mu.RUnlock()

	if !ok {
		return failure(fmt.Sprintf("no handler registered for %q", handlerName), 0)
	}

	envelope := Envelope{
		EventID:       event.ID,
		EventType:     event.EventType,
		ObjectType:    event.ObjectType,
		ObjectID:      event.ObjectID,
		Payload:       payload,
		OccurredAt:    event.OccurredAt,
		SchemaVersion: event.SchemaVersion,
	}

	callCtx, cancel := context.WithTimeout(ctx, sub.Timeout())
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			result = failure(fmt.Sprintf("handler %s panicked: %v", handlerName, p), time.Since(start))
		}
	}()

	if err := handler(callCtx, envelope); err != nil {
		return failure(fmt.Sprintf("handler %s failed: %v", handlerName, err), time.Since(start))
	}

	t.logger.Info("event handled", "handler", handlerName, "event_id", event.ID.String())

	body := fmt.Sprintf("Handled by %s", handlerName)
	result = success(time.Since(start))
	result.ResponseBody = &body
	return result
}
