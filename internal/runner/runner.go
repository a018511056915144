// Package runner drives the dispatcher in batches: a polling loop picks up
// pending and retry-due delivery logs and a mover quarantines deliveries
// that ran out of retries.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/grc-events/internal/model"
	"github.com/jwalitptl/grc-events/internal/repository"
	"github.com/jwalitptl/grc-events/pkg/logger"
	"github.com/jwalitptl/grc-events/pkg/metrics"
)

// Dispatcher is the single-attempt entry point the runner drives.
type Dispatcher interface {
	DispatchEvent(ctx context.Context, deliveryLogID uuid.UUID) bool
}

type Config struct {
	BatchSize    int
	MaxRetries   int
	PollInterval time.Duration
	DLQInterval  time.Duration
	// DispatchRate bounds dispatch attempts per second across all batch
	// types, the guard against retry storms. Zero disables the limiter.
	DispatchRate float64
}

type Runner struct {
	dispatcher   Dispatcher
	deliveryRepo repository.DeliveryLogRepository
	deadRepo     repository.DeadLetterRepository
	config       Config
	limiter      *rate.Limiter
	logger       *logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewRunner(
	dispatcher Dispatcher,
	deliveryRepo repository.DeliveryLogRepository,
	deadRepo repository.DeadLetterRepository,
	config Config,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Runner {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.MaxRetries < 0 {
		panic("MaxRetries must not be negative")
	}

	var limiter *rate.Limiter
	if config.DispatchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.DispatchRate), 1)
	}

	return &Runner{
		dispatcher:   dispatcher,
		deliveryRepo: deliveryRepo,
		deadRepo:     deadRepo,
		config:       config,
		limiter:      limiter,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
}

// Start runs the polling loops until ctx is cancelled. New batch work stops
// on cancellation; the attempt in flight finishes and writes its outcome.
func (r *Runner) Start(ctx context.Context) {
	pollTicker := time.NewTicker(r.config.PollInterval)
	defer pollTicker.Stop()

	dlqTicker := time.NewTicker(r.config.DLQInterval)
	defer dlqTicker.Stop()

	r.logger.Info("starting delivery runner",
		"batch_size", r.config.BatchSize,
		"max_retries", r.config.MaxRetries,
		"poll_interval", r.config.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutting down delivery runner")
			return
		case <-pollTicker.C:
			r.DispatchPendingDeliveries(ctx, r.config.BatchSize)
			r.RetryFailedDeliveries(ctx, r.config.MaxRetries, r.config.BatchSize)
		case <-dlqTicker.C:
			if _, err := r.MoveToDeadLetterQueue(ctx, r.config.MaxRetries); err != nil {
				r.logger.Error(err, "dead letter sweep failed")
			}
		}
	}
}

// DispatchPendingDeliveries dispatches up to batchSize pending delivery
// logs, oldest first, and returns the number delivered. One log's failure
// never aborts the batch.
func (r *Runner) DispatchPendingDeliveries(ctx context.Context, batchSize int) int {
	logs, err := r.deliveryRepo.ListPending(ctx, batchSize)
	if err != nil {
		r.logger.Error(err, "failed to list pending deliveries")
		return 0
	}

	r.metrics.BatchSize.WithLabelValues("pending").Observe(float64(len(logs)))
	r.logger.Info("dispatching pending deliveries", "count", len(logs), "batch_size", batchSize)

	return r.dispatchBatch(ctx, logs)
}

// RetryFailedDeliveries dispatches up to batchSize failed delivery logs
// whose next retry is due, soonest first, and returns the number delivered.
func (r *Runner) RetryFailedDeliveries(ctx context.Context, maxRetries, batchSize int) int {
	logs, err := r.deliveryRepo.ListDueForRetry(ctx, maxRetries, batchSize, r.now().UTC())
	if err != nil {
		r.logger.Error(err, "failed to list deliveries due for retry")
		return 0
	}

	r.metrics.BatchSize.WithLabelValues("retry").Observe(float64(len(logs)))
	r.logger.Info("retrying failed deliveries", "count", len(logs), "max_retries", maxRetries)

	return r.dispatchBatch(ctx, logs)
}

func (r *Runner) dispatchBatch(ctx context.Context, logs []*model.EventDeliveryLog) int {
	successCount := 0
	for _, log := range logs {
		// Stop picking up new work once the context is gone; the
		// dispatcher call that already started finishes on its own.
		if ctx.Err() != nil {
			r.logger.Info("batch interrupted", "remaining", len(logs)-successCount)
			break
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				break
			}
		}
		if r.dispatcher.DispatchEvent(ctx, log.ID) {
			successCount++
		}
	}
	return successCount
}

// MoveToDeadLetterQueue quarantines every failed delivery that exhausted
// its retries: one DeadLetterEntry per log, then the log flips to skipped.
// Returns the number of deliveries moved. Safe to re-run; a log that is no
// longer failed is left alone.
func (r *Runner) MoveToDeadLetterQueue(ctx context.Context, maxRetries int) (int, error) {
	logs, err := r.deliveryRepo.ListExhausted(ctx, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to list exhausted deliveries: %w", err)
	}

	r.logger.Info("moving exhausted deliveries to dead letter queue",
		"count", len(logs), "max_retries", maxRetries)

	moved := 0
	for _, log := range logs {
		if ctx.Err() != nil {
			break
		}

		errorMessage := "Max retries exceeded"
		if log.ErrorMessage != nil && *log.ErrorMessage != "" {
			errorMessage = *log.ErrorMessage
		}

		entry := &model.DeadLetterEntry{
			ID:                  uuid.New(),
			EventID:             log.EventID,
			EntryType:           model.DeadLetterEntryTypeEvent,
			OriginalPayloadJSON: log.Event.PayloadJSON,
			ErrorMessage:        model.TruncateError(errorMessage),
			FailureCount:        log.AttemptNumber,
			Status:              model.DeadLetterStatusPending,
			FailedAt:            r.now().UTC(),
		}

		ok, err := r.deadRepo.MoveFromDeliveryLog(ctx, entry, log.ID)
		if err != nil {
			r.logger.Error(err, "failed to move delivery to dead letter queue",
				"delivery_log_id", log.ID.String())
			continue
		}
		if ok {
			moved++
			r.metrics.DeliveriesDeadLetter.Inc()
		}
	}

	r.logger.Info("moved deliveries to dead letter queue", "moved", moved)
	return moved, nil
}
