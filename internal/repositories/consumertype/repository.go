package consumertype

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

// ConsumerTypeRepository persists consumer types, keyed by label
type ConsumerTypeRepository interface {
	GetByLabel(ctx context.Context, label string) (*models.ConsumerType, error)
	List(ctx context.Context) ([]models.ConsumerType, error)
	Upsert(ctx context.Context, ct *models.ConsumerType) (*models.ConsumerType, error)
}

// Repository implements ConsumerTypeRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new consumer type repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "consumer_types"

var columns = []string{"id", "label", "manifest", "created_at", "updated_at"}

// GetByLabel gets a consumer type by label
func (r *Repository) GetByLabel(ctx context.Context, label string) (*models.ConsumerType, error) {
	ctx, span := tracing.StartSpan(ctx, "ConsumerTypeRepository.GetByLabel")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("label", label))

	query, args := sb.Build()

	var ct models.ConsumerType
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &ct, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get consumer type by label")
		return nil, fmt.Errorf("failed to get consumer type: %w", err)
	}

	return &ct, nil
}

// List lists all consumer types
func (r *Repository) List(ctx context.Context) ([]models.ConsumerType, error) {
	ctx, span := tracing.StartSpan(ctx, "ConsumerTypeRepository.List")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.OrderBy("label ASC")

	query, args := sb.Build()

	var types []models.ConsumerType
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &types, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list consumer types")
		return nil, fmt.Errorf("failed to list consumer types: %w", err)
	}

	return types, nil
}

// Upsert inserts a consumer type or refreshes its manifest flag by label
func (r *Repository) Upsert(ctx context.Context, ct *models.ConsumerType) (*models.ConsumerType, error) {
	ctx, span := tracing.StartSpan(ctx, "ConsumerTypeRepository.Upsert")
	defer span.End()

	now := time.Now()

	sb := sqlbuilder.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols(columns...)
	sb.Values(uuid.New().String(), ct.Label, ct.Manifest, now, now)

	query, args := sb.Build()
	query += " ON CONFLICT (label) DO UPDATE SET manifest = EXCLUDED.manifest, updated_at = EXCLUDED.updated_at"

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to upsert consumer type")
		return nil, fmt.Errorf("failed to upsert consumer type: %w", err)
	}

	return r.GetByLabel(ctx, ct.Label)
}
