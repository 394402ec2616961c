package models

import "time"

// ImportRecordStatus classifies the outcome of one manifest import.
type ImportRecordStatus string

const (
	ImportSuccess            ImportRecordStatus = "SUCCESS"
	ImportSuccessWithWarning ImportRecordStatus = "SUCCESS_WITH_WARNING"
	ImportFailure            ImportRecordStatus = "FAILURE"
)

// ImportRecord is the audit trail entry written for every import attempt,
// success or failure.
type ImportRecord struct {
	ID                   string             `json:"id" db:"id"`
	OwnerID              string             `json:"owner_id" db:"owner_id"`
	Status               ImportRecordStatus `json:"status" db:"status"`
	StatusMessage        string             `json:"status_message" db:"status_message"`
	FileName             string             `json:"file_name" db:"file_name"`
	GeneratedBy          string             `json:"generated_by" db:"generated_by"`
	GeneratedDate        *time.Time         `json:"generated_date,omitempty" db:"generated_date"`
	UpstreamConsumerUUID string             `json:"upstream_consumer_uuid,omitempty" db:"upstream_consumer_uuid"`
	UpstreamConsumerName string             `json:"upstream_consumer_name,omitempty" db:"upstream_consumer_name"`
	CreatedAt            time.Time          `json:"created_at" db:"created_at"`
}

// DistributorVersion describes a known distributor release and its
// capabilities, exported under distributor_version/.
type DistributorVersion struct {
	ID           string    `json:"id,omitempty" db:"id"`
	Name         string    `json:"name" db:"name" validate:"required"`
	DisplayName  string    `json:"displayName" db:"display_name"`
	Capabilities []string  `json:"capabilities,omitempty" db:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// RulesSource holds the stored rules content and its schema version. The
// rules engine host itself lives elsewhere; import only replaces the source
// when the incoming version is newer.
type RulesSource struct {
	ID        string    `json:"id" db:"id"`
	Version   string    `json:"version" db:"version"`
	Content   string    `json:"content" db:"content"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
