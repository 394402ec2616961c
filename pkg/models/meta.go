package models

import "time"

// Meta is the manifest header written to meta.json. A manifest is immutable
// once written; the Created timestamp is the sole staleness signal on import.
type Meta struct {
	Version       string    `json:"version"`
	Created       time.Time `json:"created"`
	PrincipalName string    `json:"principalName"`
	WebAppPrefix  string    `json:"webAppPrefix,omitempty"`
	CdnLabel      string    `json:"cdnLabel,omitempty"`
}

// ExportMetadataTypePerUser marks the per-owner import watermark record.
const ExportMetadataTypePerUser = "per_user"

// ExportMetadata tracks the created timestamp of the last manifest imported
// for an owner. Used to reject stale or duplicate manifests.
type ExportMetadata struct {
	ID       string    `json:"id" db:"id"`
	Type     string    `json:"type" db:"type"`
	Exported time.Time `json:"exported" db:"exported"`
	OwnerID  string    `json:"owner_id" db:"owner_id"`
}
