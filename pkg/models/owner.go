package models

import "time"

// Owner is the tenant boundary. All subscriptions, consumers and imports
// belong to exactly one owner.
type Owner struct {
	ID                 string     `json:"id" db:"id"`
	Key                string     `json:"key" db:"key" validate:"required"`
	DisplayName        string     `json:"display_name" db:"display_name"`
	UpstreamConsumerID *string    `json:"upstream_consumer_id,omitempty" db:"upstream_consumer_id"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}
