package runner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/grc-events/internal/model"
	"github.com/jwalitptl/grc-events/pkg/logger"
	"github.com/jwalitptl/grc-events/pkg/metrics"
)

var testMetrics = metrics.New("runner_test")

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

type fakeDispatcher struct {
	results map[uuid.UUID]bool
	calls   []uuid.UUID
}

func (f *fakeDispatcher) DispatchEvent(_ context.Context, id uuid.UUID) bool {
	f.calls = append(f.calls, id)
	return f.results[id]
}

// fakeStore keeps delivery logs in memory and mimics the repository's
// selection rules closely enough for batch semantics.
type fakeStore struct {
	logs    map[uuid.UUID]*model.EventDeliveryLog
	listErr error
	entries []*model.DeadLetterEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{logs: make(map[uuid.UUID]*model.EventDeliveryLog)}
}

func (f *fakeStore) add(log *model.EventDeliveryLog) {
	f.logs[log.ID] = log
}

func (f *fakeStore) GetWithRefs(_ context.Context, id uuid.UUID) (*model.EventDeliveryLog, error) {
	log, ok := f.logs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return log, nil
}

func (f *fakeStore) ClaimAttempt(_ context.Context, _ uuid.UUID, _ int, _ time.Time) (bool, error) {
	return true, nil
}

func (f *fakeStore) RecordOutcome(_ context.Context, _ *model.EventDeliveryLog) error {
	return nil
}

func (f *fakeStore) ListPending(_ context.Context, limit int) ([]*model.EventDeliveryLog, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var pending []*model.EventDeliveryLog
	for _, log := range f.logs {
		if log.Status == model.DeliveryStatusPending {
			pending = append(pending, log)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].AttemptedAt.Before(pending[j].AttemptedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (f *fakeStore) ListDueForRetry(_ context.Context, maxRetries, limit int, now time.Time) ([]*model.EventDeliveryLog, error) {
	var due []*model.EventDeliveryLog
	for _, log := range f.logs {
		if log.Status != model.DeliveryStatusFailed || log.AttemptNumber >= maxRetries {
			continue
		}
		if log.NextRetryAt == nil || log.NextRetryAt.After(now) {
			continue
		}
		due = append(due, log)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeStore) ListExhausted(_ context.Context, maxRetries int) ([]*model.EventDeliveryLog, error) {
	var exhausted []*model.EventDeliveryLog
	for _, log := range f.logs {
		if log.Status == model.DeliveryStatusFailed && log.AttemptNumber >= maxRetries {
			exhausted = append(exhausted, log)
		}
	}
	return exhausted, nil
}

func (f *fakeStore) MoveFromDeliveryLog(_ context.Context, entry *model.DeadLetterEntry, deliveryLogID uuid.UUID) (bool, error) {
	log, ok := f.logs[deliveryLogID]
	if !ok || log.Status != model.DeliveryStatusFailed {
		return false, nil
	}
	log.Status = model.DeliveryStatusSkipped
	log.NextRetryAt = nil
	f.entries = append(f.entries, entry)
	return true, nil
}

func pendingLog(attemptedAt time.Time) *model.EventDeliveryLog {
	eventID := uuid.New()
	return &model.EventDeliveryLog{
		ID:             uuid.New(),
		EventID:        eventID,
		SubscriptionID: uuid.New(),
		Status:         model.DeliveryStatusPending,
		AttemptedAt:    attemptedAt,
		Event: &model.DomainEvent{
			ID:          eventID,
			EventType:   "ControlCreated",
			PayloadJSON: json.RawMessage(`{"control_code":"AC-2"}`),
		},
	}
}

func newTestRunner(d Dispatcher, store *fakeStore) *Runner {
	cfg := Config{
		BatchSize:    50,
		MaxRetries:   3,
		PollInterval: time.Minute,
		DLQInterval:  time.Minute,
	}
	return NewRunner(d, store, store, cfg, testLogger(), testMetrics)
}

func TestDispatchPendingDeliveries_RespectsBatchSizeOldestFirst(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	// Insert newest first to prove selection reorders by attempted_at.
	var oldest, second uuid.UUID
	for i := 4; i >= 0; i-- {
		log := pendingLog(base.Add(time.Duration(i) * time.Minute))
		store.add(log)
		switch i {
		case 0:
			oldest = log.ID
		case 1:
			second = log.ID
		}
	}

	d := &fakeDispatcher{results: map[uuid.UUID]bool{oldest: true, second: true}}
	r := newTestRunner(d, store)

	count := r.DispatchPendingDeliveries(context.Background(), 2)

	assert.Equal(t, 2, count)
	require.Len(t, d.calls, 2, "exactly batchSize logs dispatched")
	assert.Equal(t, oldest, d.calls[0])
	assert.Equal(t, second, d.calls[1])
}

func TestDispatchPendingDeliveries_OneFailureDoesNotAbortBatch(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	results := make(map[uuid.UUID]bool)
	for i := 0; i < 3; i++ {
		log := pendingLog(base.Add(time.Duration(i) * time.Minute))
		store.add(log)
		results[log.ID] = i != 1 // middle one fails
	}

	d := &fakeDispatcher{results: results}
	r := newTestRunner(d, store)

	count := r.DispatchPendingDeliveries(context.Background(), 10)

	assert.Equal(t, 2, count)
	assert.Len(t, d.calls, 3, "the failed dispatch must not stop the rest")
}

func TestDispatchPendingDeliveries_ListErrorReturnsZero(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("db down")
	d := &fakeDispatcher{results: map[uuid.UUID]bool{}}
	r := newTestRunner(d, store)

	assert.Zero(t, r.DispatchPendingDeliveries(context.Background(), 10))
	assert.Empty(t, d.calls)
}

func TestDispatchPendingDeliveries_StopsOnCancelledContext(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.add(pendingLog(base.Add(time.Duration(i) * time.Minute)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &fakeDispatcher{results: map[uuid.UUID]bool{}}
	r := newTestRunner(d, store)

	count := r.DispatchPendingDeliveries(ctx, 10)

	assert.Zero(t, count)
	assert.Empty(t, d.calls, "no new work once the context is cancelled")
}

func TestRetryFailedDeliveries_OnlyDueLogs(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()

	due := pendingLog(now.Add(-time.Hour))
	due.Status = model.DeliveryStatusFailed
	due.AttemptNumber = 1
	dueAt := now.Add(-time.Minute)
	due.NextRetryAt = &dueAt
	store.add(due)

	notYet := pendingLog(now.Add(-time.Hour))
	notYet.Status = model.DeliveryStatusFailed
	notYet.AttemptNumber = 1
	futureAt := now.Add(time.Hour)
	notYet.NextRetryAt = &futureAt
	store.add(notYet)

	exhausted := pendingLog(now.Add(-time.Hour))
	exhausted.Status = model.DeliveryStatusFailed
	exhausted.AttemptNumber = 3
	exhaustedAt := now.Add(-time.Minute)
	exhausted.NextRetryAt = &exhaustedAt
	store.add(exhausted)

	d := &fakeDispatcher{results: map[uuid.UUID]bool{due.ID: true}}
	r := newTestRunner(d, store)

	count := r.RetryFailedDeliveries(context.Background(), 3, 50)

	assert.Equal(t, 1, count)
	require.Len(t, d.calls, 1)
	assert.Equal(t, due.ID, d.calls[0])
}

func TestMoveToDeadLetterQueue_MovesExhaustedAndIsIdempotent(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()

	exhausted := pendingLog(now.Add(-time.Hour))
	exhausted.Status = model.DeliveryStatusFailed
	exhausted.AttemptNumber = 3
	errMsg := "webhook returned status 500"
	exhausted.ErrorMessage = &errMsg
	store.add(exhausted)

	stillRetrying := pendingLog(now.Add(-time.Hour))
	stillRetrying.Status = model.DeliveryStatusFailed
	stillRetrying.AttemptNumber = 1
	store.add(stillRetrying)

	r := newTestRunner(&fakeDispatcher{}, store)

	moved, err := r.MoveToDeadLetterQueue(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, exhausted.EventID, entry.EventID)
	assert.Equal(t, model.DeadLetterEntryTypeEvent, entry.EntryType)
	assert.Equal(t, "webhook returned status 500", entry.ErrorMessage)
	assert.Equal(t, 3, entry.FailureCount)
	assert.Equal(t, model.DeadLetterStatusPending, entry.Status)
	assert.JSONEq(t, `{"control_code":"AC-2"}`, string(entry.OriginalPayloadJSON))
	assert.Equal(t, model.DeliveryStatusSkipped, store.logs[exhausted.ID].Status)
	assert.Nil(t, store.logs[exhausted.ID].NextRetryAt)

	// Re-run: the skipped log no longer qualifies.
	moved, err = r.MoveToDeadLetterQueue(context.Background(), 3)
	require.NoError(t, err)
	assert.Zero(t, moved)
	assert.Len(t, store.entries, 1)
}

func TestMoveToDeadLetterQueue_DefaultErrorMessage(t *testing.T) {
	store := newFakeStore()
	exhausted := pendingLog(time.Now().UTC().Add(-time.Hour))
	exhausted.Status = model.DeliveryStatusFailed
	exhausted.AttemptNumber = 5
	store.add(exhausted)

	r := newTestRunner(&fakeDispatcher{}, store)

	moved, err := r.MoveToDeadLetterQueue(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	require.Len(t, store.entries, 1)
	assert.Equal(t, "Max retries exceeded", store.entries[0].ErrorMessage)
	assert.Equal(t, 5, store.entries[0].FailureCount)
}
