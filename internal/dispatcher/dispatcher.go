// Package dispatcher performs single delivery attempts: it claims a
// delivery log row, pushes the event through the subscription's transport
// adapter, and writes the outcome back with the next retry time.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/grc-events/internal/model"
	"github.com/jwalitptl/grc-events/internal/repository"
	"github.com/jwalitptl/grc-events/internal/transport"
	"github.com/jwalitptl/grc-events/pkg/logger"
	"github.com/jwalitptl/grc-events/pkg/metrics"
)

type Dispatcher struct {
	deliveryRepo repository.DeliveryLogRepository
	eventRepo    repository.EventRepository
	subRepo      repository.SubscriptionRepository
	transports   map[model.DeliveryMethod]transport.Transport
	logger       *logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewDispatcher(
	deliveryRepo repository.DeliveryLogRepository,
	eventRepo repository.EventRepository,
	subRepo repository.SubscriptionRepository,
	transports map[model.DeliveryMethod]transport.Transport,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		deliveryRepo: deliveryRepo,
		eventRepo:    eventRepo,
		subRepo:      subRepo,
		transports:   transports,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
}

// DispatchEvent performs one delivery attempt for the given delivery log.
// It never returns an error: every failure mode, from a missing row to a
// transport timeout, ends up captured in the log row's status and
// error_message. The returned bool is true only when the delivery
// succeeded.
func (d *Dispatcher) DispatchEvent(ctx context.Context, deliveryLogID uuid.UUID) bool {
	log, err := d.deliveryRepo.GetWithRefs(ctx, deliveryLogID)
	if err == repository.ErrNotFound {
		d.logger.Warn("delivery log not found", "delivery_log_id", deliveryLogID.String())
		return false
	}
	if err != nil {
		d.logger.Error(err, "failed to load delivery log", "delivery_log_id", deliveryLogID.String())
		return false
	}

	if log.Terminal() {
		d.logger.Warn("delivery log already terminal, not dispatching",
			"delivery_log_id", log.ID.String(),
			"status", string(log.Status))
		return false
	}

	if !log.Subscription.IsActive {
		return d.cancelInactive(ctx, log)
	}

	attemptedAt := d.now().UTC()
	claimed, err := d.deliveryRepo.ClaimAttempt(ctx, log.ID, log.AttemptNumber, attemptedAt)
	if err != nil {
		d.logger.Error(err, "failed to claim delivery attempt", "delivery_log_id", log.ID.String())
		return false
	}
	if !claimed {
		// Another runner got here first, or the log went terminal under us.
		d.logger.Debug("lost claim on delivery log", "delivery_log_id", log.ID.String())
		return false
	}

	log.AttemptNumber++
	log.AttemptedAt = attemptedAt
	log.HTTPStatusCode = nil
	log.ResponseBody = nil
	log.ErrorMessage = nil
	log.LatencyMs = nil

	d.logger.Info("dispatching event delivery",
		"event_type", log.Event.EventType,
		"subscriber_system", log.Subscription.SubscriberSystem,
		"delivery_method", string(log.Subscription.DeliveryMethod),
		"attempt_number", log.AttemptNumber)

	method := log.Subscription.DeliveryMethod
	timer := prometheus.NewTimer(d.metrics.DispatchLatency.WithLabelValues(string(method)))
	result := d.attempt(ctx, log)
	timer.ObserveDuration()

	log.HTTPStatusCode = result.HTTPStatusCode
	log.ResponseBody = result.ResponseBody
	if result.LatencyMs > 0 {
		latency := result.LatencyMs
		log.LatencyMs = &latency
	}

	if result.Success {
		log.Status = model.DeliveryStatusDelivered
		log.NextRetryAt = nil
	} else {
		log.Status = model.DeliveryStatusFailed
		if result.ErrorMessage != nil {
			truncated := model.TruncateError(*result.ErrorMessage)
			log.ErrorMessage = &truncated
		}
		log.NextRetryAt = NextRetryAt(attemptedAt, log.AttemptNumber,
			log.Subscription.RetryPolicy, log.Subscription.MaxRetries)
	}

	if err := d.deliveryRepo.RecordOutcome(ctx, log); err != nil {
		d.logger.Error(err, "failed to record delivery outcome", "delivery_log_id", log.ID.String())
		return false
	}

	if result.Success {
		d.metrics.DeliveriesDispatched.WithLabelValues(string(method)).Inc()
		// Processed tracks the first successful delivery for the event,
		// not full fan-out completion.
		if err := d.eventRepo.MarkProcessed(ctx, log.EventID, attemptedAt); err != nil {
			d.logger.Error(err, "failed to mark event processed", "event_id", log.EventID.String())
		}
		if err := d.subRepo.ResetFailures(ctx, log.SubscriptionID); err != nil {
			d.logger.Error(err, "failed to reset subscription failures",
				"subscription_id", log.SubscriptionID.String())
		}
		d.logger.Info("event delivered",
			"event_type", log.Event.EventType,
			"subscriber_system", log.Subscription.SubscriberSystem)
		return true
	}

	d.metrics.DeliveriesFailed.WithLabelValues(string(method)).Inc()
	d.recordSubscriptionFailure(ctx, log)
	d.logger.Warn("event delivery failed",
		"event_type", log.Event.EventType,
		"subscriber_system", log.Subscription.SubscriberSystem,
		"attempt_number", log.AttemptNumber,
		"next_retry_at", log.NextRetryAt)
	return false
}

// cancelInactive closes out a delivery whose subscription was deactivated
// after the log was created. The log goes to cancelled, not skipped, without
// a transport call: skipped is reserved for the dead-letter move and always
// pairs with a dead letter entry, while nothing is quarantined here.
func (d *Dispatcher) cancelInactive(ctx context.Context, log *model.EventDeliveryLog) bool {
	attemptedAt := d.now().UTC()
	claimed, err := d.deliveryRepo.ClaimAttempt(ctx, log.ID, log.AttemptNumber, attemptedAt)
	if err != nil {
		d.logger.Error(err, "failed to claim delivery attempt", "delivery_log_id", log.ID.String())
		return false
	}
	if !claimed {
		return false
	}

	log.AttemptNumber++
	log.AttemptedAt = attemptedAt
	log.Status = model.DeliveryStatusCancelled
	errMsg := "subscription is disabled"
	log.ErrorMessage = &errMsg
	log.NextRetryAt = nil

	if err := d.deliveryRepo.RecordOutcome(ctx, log); err != nil {
		d.logger.Error(err, "failed to record cancelled delivery", "delivery_log_id", log.ID.String())
		return false
	}

	d.logger.Warn("delivery cancelled, subscription disabled",
		"subscription_code", log.Subscription.SubscriptionCode,
		"delivery_log_id", log.ID.String())
	return false
}

// recordSubscriptionFailure feeds the attempt into the subscription's
// consecutive-failure counter, which auto-disables the subscription at its
// configured threshold.
func (d *Dispatcher) recordSubscriptionFailure(ctx context.Context, log *model.EventDeliveryLog) {
	reason := "delivery failed"
	if log.ErrorMessage != nil {
		reason = *log.ErrorMessage
	}

	failures, active, err := d.subRepo.RecordFailure(ctx, log.SubscriptionID,
		model.TruncateError(fmt.Sprintf("auto-disabled after consecutive failures: %s", reason)))
	if err != nil {
		d.logger.Error(err, "failed to record subscription failure",
			"subscription_id", log.SubscriptionID.String())
		return
	}

	// Warn only on the failure that crossed the threshold; later failures
	// keep counting against the already-disabled row.
	threshold := log.Subscription.DisableAfterFailures
	if !active && threshold > 0 && failures == threshold {
		d.logger.Warn("subscription auto-disabled after consecutive failures",
			"subscription_code", log.Subscription.SubscriptionCode,
			"subscriber_system", log.Subscription.SubscriberSystem,
			"consecutive_failures", failures)
	}
}

// attempt runs the transport call for an already-claimed log and returns
// the uniform result. Parse failures and misconfigured delivery methods are
// delivery failures like any other, so they go through normal retry
// accounting and stay visible to operators instead of being dropped.
func (d *Dispatcher) attempt(ctx context.Context, log *model.EventDeliveryLog) transport.Result {
	payload := log.Event.PayloadJSON
	if len(payload) == 0 || !json.Valid(payload) {
		return failureResult("invalid event payload: not valid JSON")
	}

	tr, ok := d.transports[log.Subscription.DeliveryMethod]
	if !ok {
		return failureResult(fmt.Sprintf("unknown delivery method: %s", log.Subscription.DeliveryMethod))
	}

	return tr.Deliver(ctx, log.Subscription, log.Event, payload)
}

func failureResult(msg string) transport.Result {
	truncated := model.TruncateError(msg)
	return transport.Result{Success: false, ErrorMessage: &truncated}
}
