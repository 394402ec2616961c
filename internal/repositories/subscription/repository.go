package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SubscriptionRepository defines the interface for subscription operations
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	GetByID(ctx context.Context, id string) (*models.Subscription, error)
	GetByOwnerID(ctx context.Context, ownerID string) ([]models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	Delete(ctx context.Context, id string) error
}

// Repository implements SubscriptionRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new subscription repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying handle for transaction ownership
func (r *Repository) DB() database.DB {
	return r.db
}

const tableName = "subscriptions"

var columns = []string{
	"id", "owner_id", "product_id", "quantity", "start_date", "end_date",
	"contract_number", "account_number", "order_number",
	"upstream_pool_id", "upstream_entitlement_id", "upstream_consumer_id",
	"derived_product_id", "provided_product_ids", "certificate",
	"created_at", "updated_at", "deleted_at",
}

// row is the persisted shape; list fields are stored as jsonb
type row struct {
	ID                    string                                             `db:"id"`
	OwnerID               string                                             `db:"owner_id"`
	ProductID             string                                             `db:"product_id"`
	Quantity              int64                                              `db:"quantity"`
	StartDate             time.Time                                          `db:"start_date"`
	EndDate               time.Time                                          `db:"end_date"`
	ContractNumber        string                                             `db:"contract_number"`
	AccountNumber         string                                             `db:"account_number"`
	OrderNumber           string                                             `db:"order_number"`
	UpstreamPoolID        *string                                            `db:"upstream_pool_id"`
	UpstreamEntitlementID *string                                            `db:"upstream_entitlement_id"`
	UpstreamConsumerID    *string                                            `db:"upstream_consumer_id"`
	DerivedProductID      *string                                            `db:"derived_product_id"`
	ProvidedProductIDs    database.JSONB[[]string]                           `db:"provided_product_ids"`
	Certificate           database.JSONB[*models.SubscriptionCertificate]    `db:"certificate"`
	CreatedAt             time.Time                                          `db:"created_at"`
	UpdatedAt             time.Time                                          `db:"updated_at"`
	DeletedAt             *time.Time                                         `db:"deleted_at"`
}

func (r row) toModel() models.Subscription {
	return models.Subscription{
		ID:                    r.ID,
		OwnerID:               r.OwnerID,
		ProductID:             r.ProductID,
		Quantity:              r.Quantity,
		StartDate:             r.StartDate,
		EndDate:               r.EndDate,
		ContractNumber:        r.ContractNumber,
		AccountNumber:         r.AccountNumber,
		OrderNumber:           r.OrderNumber,
		UpstreamPoolID:        r.UpstreamPoolID,
		UpstreamEntitlementID: r.UpstreamEntitlementID,
		UpstreamConsumerID:    r.UpstreamConsumerID,
		DerivedProductID:      r.DerivedProductID,
		ProvidedProductIDs:    r.ProvidedProductIDs.Data,
		Certificate:           r.Certificate.Data,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
		DeletedAt:             r.DeletedAt,
	}
}

// Create inserts a new subscription
func (r *Repository) Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.Create")
	defer span.End()

	now := time.Now()
	id := sub.ID
	if id == "" {
		id = uuid.New().String()
	}

	sb := sqlbuilder.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols(
		"id", "owner_id", "product_id", "quantity", "start_date", "end_date",
		"contract_number", "account_number", "order_number",
		"upstream_pool_id", "upstream_entitlement_id", "upstream_consumer_id",
		"derived_product_id", "provided_product_ids", "certificate",
		"created_at", "updated_at",
	)
	sb.Values(
		id, sub.OwnerID, sub.ProductID, sub.Quantity, sub.StartDate, sub.EndDate,
		sub.ContractNumber, sub.AccountNumber, sub.OrderNumber,
		sub.UpstreamPoolID, sub.UpstreamEntitlementID, sub.UpstreamConsumerID,
		sub.DerivedProductID,
		database.JSONB[[]string]{Data: sub.ProvidedProductIDs},
		database.JSONB[*models.SubscriptionCertificate]{Data: sub.Certificate},
		now, now,
	)

	query, args := sb.Build()

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create subscription")
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":       id,
		"owner_id": sub.OwnerID,
	}).Info("created subscription")

	return r.GetByID(ctx, id)
}

// GetByID gets a subscription by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.GetByID")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()

	var rec row
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &rec, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get subscription by ID")
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	sub := rec.toModel()
	return &sub, nil
}

// GetByOwnerID gets all subscriptions for an owner
func (r *Repository) GetByOwnerID(ctx context.Context, ownerID string) ([]models.Subscription, error) {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.GetByOwnerID")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("owner_id", ownerID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()

	var rows []row
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list subscriptions")
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	subs := make([]models.Subscription, len(rows))
	for i, rec := range rows {
		subs[i] = rec.toModel()
	}
	return subs, nil
}

// Update overwrites a subscription's descriptive fields
func (r *Repository) Update(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.Update")
	defer span.End()

	sb := sqlbuilder.NewUpdateBuilder()
	sb.Update(tableName)
	sb.Set(
		sb.Assign("product_id", sub.ProductID),
		sb.Assign("quantity", sub.Quantity),
		sb.Assign("start_date", sub.StartDate),
		sb.Assign("end_date", sub.EndDate),
		sb.Assign("contract_number", sub.ContractNumber),
		sb.Assign("account_number", sub.AccountNumber),
		sb.Assign("order_number", sub.OrderNumber),
		sb.Assign("upstream_pool_id", sub.UpstreamPoolID),
		sb.Assign("upstream_entitlement_id", sub.UpstreamEntitlementID),
		sb.Assign("upstream_consumer_id", sub.UpstreamConsumerID),
		sb.Assign("derived_product_id", sub.DerivedProductID),
		sb.Assign("provided_product_ids", database.JSONB[[]string]{Data: sub.ProvidedProductIDs}),
		sb.Assign("certificate", database.JSONB[*models.SubscriptionCertificate]{Data: sub.Certificate}),
		sb.Assign("updated_at", time.Now()),
	)
	sb.Where(
		sb.Equal("id", sub.ID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()

	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to update subscription")
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":            sub.ID,
		"rows_affected": rowsAffected,
	}).Info("updated subscription")

	return r.GetByID(ctx, sub.ID)
}

// Delete soft deletes a subscription
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.Delete")
	defer span.End()

	sb := sqlbuilder.NewUpdateBuilder()
	sb.Update(tableName)
	sb.Set(sb.Assign("deleted_at", time.Now()))
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()

	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to delete subscription")
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":            id,
		"rows_affected": rowsAffected,
	}).Info("deleted subscription")

	return nil
}
