package models

import (
	"time"
)

// Subscription is the local record of purchased entitlement capacity for a
// product. Import-managed rows carry the upstream pool/entitlement identity
// pair; rows without an upstream pool id were created locally and are never
// touched by manifest import.
type Subscription struct {
	ID                    string     `json:"id" db:"id"`
	OwnerID               string     `json:"owner_id" db:"owner_id"`
	ProductID             string     `json:"product_id" db:"product_id"`
	Quantity              int64      `json:"quantity" db:"quantity"`
	StartDate             time.Time  `json:"start_date" db:"start_date"`
	EndDate               time.Time  `json:"end_date" db:"end_date"`
	ContractNumber        string     `json:"contract_number,omitempty" db:"contract_number"`
	AccountNumber         string     `json:"account_number,omitempty" db:"account_number"`
	OrderNumber           string     `json:"order_number,omitempty" db:"order_number"`
	UpstreamPoolID        *string    `json:"upstream_pool_id,omitempty" db:"upstream_pool_id"`
	UpstreamEntitlementID *string    `json:"upstream_entitlement_id,omitempty" db:"upstream_entitlement_id"`
	UpstreamConsumerID    *string    `json:"upstream_consumer_id,omitempty" db:"upstream_consumer_id"`
	DerivedProductID      *string    `json:"derived_product_id,omitempty" db:"derived_product_id"`
	ProvidedProductIDs    []string   `json:"provided_product_ids,omitempty" db:"-"`
	Certificate           *SubscriptionCertificate `json:"certificate,omitempty" db:"-"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt             *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// HasUpstreamPool reports whether this subscription is managed by manifest
// import rather than created locally.
func (s *Subscription) HasUpstreamPool() bool {
	return s.UpstreamPoolID != nil && *s.UpstreamPoolID != ""
}

// Active reports whether the subscription's validity window covers now.
func (s *Subscription) Active(now time.Time) bool {
	return !now.Before(s.StartDate) && !now.After(s.EndDate)
}

// SubscriptionCertificate is the entitlement cert/key pair embedded in a
// subscription, keyed by its serial.
type SubscriptionCertificate struct {
	Serial CertificateSerial `json:"serial"`
	Key    string            `json:"key"`
	Cert   string            `json:"cert"`
}

// CertificateSerial identifies one issued certificate.
type CertificateSerial struct {
	ID         int64     `json:"id"`
	Expiration time.Time `json:"expiration"`
	Revoked    bool      `json:"revoked"`
}
