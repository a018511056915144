package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusProcessed EventStatus = "processed"
)

// DomainEvent is an immutable record of something that happened in the
// platform (control created, evidence uploaded, risk updated, ...).
// Producers create it; the dispatcher only flips Status to processed.
type DomainEvent struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	EventType     string          `db:"event_type" json:"event_type"`
	ObjectType    string          `db:"object_type" json:"object_type"`
	ObjectID      uuid.UUID       `db:"object_id" json:"object_id"`
	PayloadJSON   json.RawMessage `db:"payload_json" json:"payload_json"`
	SchemaVersion string          `db:"schema_version" json:"schema_version"`
	Status        EventStatus     `db:"status" json:"status"`
	OccurredAt    time.Time       `db:"occurred_at" json:"occurred_at"`
	ProcessedAt   *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}
