package models

import "time"

// ConsumerType classifies a registered consumer. Manifest types (distributors)
// are the only producers of exports.
type ConsumerType struct {
	ID        string    `json:"id,omitempty" db:"id"`
	Label     string    `json:"label" db:"label" validate:"required"`
	Manifest  bool      `json:"manifest" db:"manifest"`
	CreatedAt time.Time `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Consumer is the identity of the exporting system, written to consumer.json.
type Consumer struct {
	UUID              string            `json:"uuid"`
	Name              string            `json:"name"`
	Type              ConsumerTypeRef   `json:"type"`
	Owner             OwnerRef          `json:"owner"`
	UrlWeb            string            `json:"urlWeb,omitempty"`
	UrlAPI            string            `json:"urlApi,omitempty"`
	ContentAccessMode string            `json:"contentAccessMode,omitempty"`
}

// ConsumerTypeRef is the embedded type reference inside consumer.json. Import
// resolves it by label against the local store, never by the embedded id.
type ConsumerTypeRef struct {
	ID       string `json:"id,omitempty"`
	Label    string `json:"label"`
	Manifest bool   `json:"manifest"`
}

// OwnerRef is the embedded owner reference inside consumer.json.
type OwnerRef struct {
	ID          string `json:"id,omitempty"`
	Key         string `json:"key"`
	DisplayName string `json:"displayName,omitempty"`
}

// UpstreamConsumer records the remote distributor identity bound to an owner
// after a successful import. The uuid is globally unique across owners.
type UpstreamConsumer struct {
	ID                 string       `json:"id" db:"id"`
	UUID               string       `json:"uuid" db:"uuid"`
	Name               string       `json:"name" db:"name"`
	OwnerID            string       `json:"owner_id" db:"owner_id"`
	TypeLabel          string       `json:"type_label" db:"type_label"`
	WebURL             string       `json:"web_url,omitempty" db:"web_url"`
	APIURL             string       `json:"api_url,omitempty" db:"api_url"`
	ContentAccessMode  string       `json:"content_access_mode,omitempty" db:"content_access_mode"`
	IdentityCert       *IdentityCertificate `json:"identity_cert,omitempty" db:"-"`
	CreatedAt          time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at" db:"updated_at"`
}

// IdentityCertificate is the identity cert/key pair of an upstream consumer.
type IdentityCertificate struct {
	ID     string            `json:"id,omitempty"`
	Serial CertificateSerial `json:"serial"`
	Key    string            `json:"key"`
	Cert   string            `json:"cert"`
}
