package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/grc-events/internal/model"
)

func newDirectCallFixtures(handlerName string) (*model.EventSubscription, *model.DomainEvent) {
	sub := &model.EventSubscription{
		ID:               uuid.New(),
		SubscriptionCode: "AUDIT-TRAIL",
		SubscriberSystem: "Audit",
		DeliveryMethod:   model.DeliveryMethodDirectCall,
		TimeoutSeconds:   5,
	}
	if handlerName != "" {
		sub.DeliveryEndpoint = &handlerName
	}
	event := &model.DomainEvent{
		ID:          uuid.New(),
		EventType:   "PolicyApproved",
		ObjectType:  "Policy",
		ObjectID:    uuid.New(),
		PayloadJSON: json.RawMessage(`{"policy_id":"p-3"}`),
		OccurredAt:  time.Now().UTC(),
	}
	return sub, event
}

func TestDirectCallDeliver_Success(t *testing.T) {
	tr := NewDirectCallTransport(testLogger())

	var got Envelope
	tr.Register("AuditHandler", func(_ context.Context, env Envelope) error {
		got = env
		return nil
	})

	sub, event := newDirectCallFixtures("AuditHandler")
	result := tr.Deliver(context.Background(), sub, event, event.PayloadJSON)

	assert.True(t, result.Success)
	require.NotNil(t, result.ResponseBody)
	assert.Equal(t, "Handled by AuditHandler", *result.ResponseBody)
	assert.Equal(t, event.ID, got.EventID)
	assert.Equal(t, "PolicyApproved", got.EventType)
}

func TestDirectCallDeliver_HandlerErrorIsFailure(t *testing.T) {
	tr := NewDirectCallTransport(testLogger())
	tr.Register("AuditHandler", func(_ context.Context, _ Envelope) error {
		return errors.New("audit store unavailable")
	})

	sub, event := newDirectCallFixtures("AuditHandler")
	result := tr.Deliver(context.Background(), sub, event, event.PayloadJSON)

	assert.False(t, result.Success)
	require.NotNil(t, result.ErrorMessage)
	assert.Contains(t, *result.ErrorMessage, "audit store unavailable")
}

func TestDirectCallDeliver_UnknownHandler(t *testing.T) {
	tr := NewDirectCallTransport(testLogger())

	sub, event := newDirectCallFixtures("NobodyHome")
	result := tr.Deliver(context.Background(), sub, event, event.PayloadJSON)

	assert.False(t, result.Success)
	require.NotNil(t, result.ErrorMessage)
	assert.Contains(t, *result.ErrorMessage, "no handler registered")
}

func TestDirectCallDeliver_PanicIsRecovered(t *testing.T) {
	tr := NewDirectCallTransport(testLogger())
	tr.Register("Flaky", func(_ context.Context, _ Envelope) error {
		panic("boom")
	})

	sub, event := newDirectCallFixtures("Flaky")
	result := tr.Deliver(context.Background(), sub, event, event.PayloadJSON)

	assert.False(t, result.Success)
	require.NotNil(t, result.ErrorMessage)
	assert.Contains(t, *result.ErrorMessage, "panicked")
}

func TestDirectCallDeliver_DefaultHandlerName(t *testing.T) {
	tr := NewDirectCallTransport(testLogger())

	called := false
	tr.Register(DefaultHandlerName, func(_ context.Context, _ Envelope) error {
		called = true
		return nil
	})

	sub, event := newDirectCallFixtures("")
	result := tr.Deliver(context.Background(), sub, event, event.PayloadJSON)

	assert.True(t, result.Success)
	assert.True(t, called)
}
