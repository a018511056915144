package dispatcher

import (
	"time"

	"github.com/jwalitptl/grc-events/internal/model"
)

// NextRetryAt computes when a failed delivery becomes eligible for its next
// attempt. It is a pure function of the inputs: nil means retries are
// exhausted and the log is eligible for dead-lettering.
//
// Delays in minutes by policy, where n is the attempt number just recorded:
//
//	linear:      5n  (5, 10, 15, ...)
//	exponential: 2^n * 2  (4, 8, 16, ...)
//	none:        0  (immediately due; use MaxRetries=0 for true no-retry)
//
// An unrecognized policy falls back to exponential.
func NextRetryAt(now time.Time, attemptNumber int, policy model.RetryPolicy, maxRetries int) *time.Time {
	if attemptNumber >= maxRetries {
		return nil
	}

	var delayMinutes int
	switch policy {
	case model.RetryPolicyLinear:
		delayMinutes = attemptNumber * 5
	case model.RetryPolicyNone:
		delayMinutes = 0
	case model.RetryPolicyExponential:
		delayMinutes = (1 << attemptNumber) * 2
	default:
		delayMinutes = (1 << attemptNumber) * 2
	}

	next := now.Add(time.Duration(delayMinutes) * time.Minute)
	return &next
}
