package owner

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

// OwnerRepository defines the interface for owner operations
type OwnerRepository interface {
	Create(ctx context.Context, key, displayName string) (*models.Owner, error)
	GetByID(ctx context.Context, id string) (*models.Owner, error)
	GetByKey(ctx context.Context, key string) (*models.Owner, error)
	List(ctx context.Context) ([]models.Owner, error)
	SetUpstreamConsumer(ctx context.Context, ownerID string, upstreamConsumerID *string) error
	Delete(ctx context.Context, id string) error
}

// Repository implements OwnerRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new owner repository
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

const tableName = "owners"

var columns = []string{"id", "key", "display_name", "upstream_consumer_id", "created_at", "updated_at", "deleted_at"}

// Create creates a new owner
func (r *Repository) Create(ctx context.Context, key, displayName string) (*models.Owner, error) {
	ctx, span := tracing.StartSpan(ctx, "OwnerRepository.Create")
	defer span.End()

	now := time.Now()
	id := uuid.New().String()

	sb := sqlbuilder.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols("id", "key", "display_name", "created_at", "updated_at")
	sb.Values(id, key, displayName, now, now)

	query, args := sb.Build()

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create owner")
		return nil, fmt.Errorf("failed to create owner: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":  id,
		"key": key,
	}).Info("created owner")

	return r.GetByID(ctx, id)
}

// GetByID gets an owner by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Owner, error) {
	ctx, span := tracing.StartSpan(ctx, "OwnerRepository.GetByID")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()

	var owner models.Owner
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &owner, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get owner by ID")
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}

	return &owner, nil
}

// GetByKey gets an owner by key
func (r *Repository) GetByKey(ctx context.Context, key string) (*models.Owner, error) {
	ctx, span := tracing.StartSpan(ctx, "OwnerRepository.GetByKey")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("key", key),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()

	var owner models.Owner
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &owner, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get owner by key")
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}

	return &owner, nil
}

// List lists all owners
func (r *Repository) List(ctx context.Context) ([]models.Owner, error) {
	ctx, span := tracing.StartSpan(ctx, "OwnerRepository.List")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.IsNull("deleted_at"))
	sb.OrderBy("key ASC")

	query, args := sb.Build()

	var owners []models.Owner
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &owners, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list owners")
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}

	return owners, nil
}

// SetUpstreamConsumer binds (or clears) the owner's upstream consumer
func (r *Repository) SetUpstreamConsumer(ctx context.Context, ownerID string, upstreamConsumerID *string) error {
	ctx, span := tracing.StartSpan(ctx, "OwnerRepository.SetUpstreamConsumer")
	defer span.End()

	sb := sqlbuilder.NewUpdateBuilder()
	sb.Update(tableName)
	sb.Set(
		sb.Assign("upstream_consumer_id", upstreamConsumerID),
		sb.Assign("updated_at", time.Now()),
	)
	sb.Where(
		sb.Equal("id", ownerID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to set owner upstream consumer")
		return fmt.Errorf("failed to set owner upstream consumer: %w", err)
	}

	return nil
}

// Delete soft deletes an owner
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "OwnerRepository.Delete")
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
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to delete owner")
		return fmt.Errorf("failed to delete owner: %w", err)
	}

	return nil
}
