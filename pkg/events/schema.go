package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of event
type EventType string

const (
	// Subscription events
	EventTypeSubscriptionCreated EventType = "subscription.created"
	EventTypeSubscriptionUpdated EventType = "subscription.updated"
	EventTypeSubscriptionDeleted EventType = "subscription.deleted"
	EventTypeSubscriptionExpired EventType = "subscription.expired"

	// Import events
	EventTypeImportCreated EventType = "import.created"

	// Export events
	EventTypeExportCreated EventType = "export.created"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	OwnerID       string    `json:"owner_id"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType EventType, ownerID string) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		OwnerID:       ownerID,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}
}
