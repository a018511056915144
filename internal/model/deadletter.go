package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DeadLetterStatus string

const (
	DeadLetterStatusPending   DeadLetterStatus = "pending"
	DeadLetterStatusRetrying  DeadLetterStatus = "retrying"
	DeadLetterStatusResolved  DeadLetterStatus = "resolved"
	DeadLetterStatusAbandoned DeadLetterStatus = "abandoned"
)

const DeadLetterEntryTypeEvent = "Event"

// DeadLetterEntry is the terminal record for a delivery that exhausted its
// retries. It carries its own copy of the payload so remediation does not
// depend on the event row, and its Status is advanced by operators through
// a separate remediation flow, never by the dispatcher.
type DeadLetterEntry struct {
	ID                  uuid.UUID        `db:"id" json:"id"`
	EventID             uuid.UUID        `db:"event_id" json:"event_id"`
	EntryType           string           `db:"entry_type" json:"entry_type"`
	OriginalPayloadJSON json.RawMessage  `db:"original_payload_json" json:"original_payload_json"`
	ErrorMessage        string           `db:"error_message" json:"error_message"`
	FailureCount        int              `db:"failure_count" json:"failure_count"`
	Status              DeadLetterStatus `db:"status" json:"status"`
	FailedAt            time.Time        `db:"failed_at" json:"failed_at"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
}
