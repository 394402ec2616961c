package rules

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

// RulesRepository persists the single stored rules source. There is at most
// one row; Update replaces it.
type RulesRepository interface {
	Get(ctx context.Context) (*models.RulesSource, error)
	Update(ctx context.Context, content string, version string) (*models.RulesSource, error)
}

// Repository implements RulesRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new rules repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "rules_source"

var columns = []string{"id", "version", "content", "updated_at"}

// Get gets the stored rules source, nil if none was ever imported
func (r *Repository) Get(ctx context.Context) (*models.RulesSource, error) {
	ctx, span := tracing.StartSpan(ctx, "RulesRepository.Get")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.OrderBy("updated_at DESC")
	sb.Limit(1)

	query, args := sb.Build()

	var rs models.RulesSource
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &rs, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get rules source")
		return nil, fmt.Errorf("failed to get rules source: %w", err)
	}

	return &rs, nil
}

// Update replaces the stored rules source with the given content and version
func (r *Repository) Update(ctx context.Context, content string, version string) (*models.RulesSource, error) {
	ctx, span := tracing.StartSpan(ctx, "RulesRepository.Update")
	defer span.End()

	q := database.FromContext(ctx, r.db)

	db := sqlbuilder.NewDeleteBuilder()
	db.DeleteFrom(tableName)

	query, args := db.Build()
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to clear rules source")
		return nil, fmt.Errorf("failed to update rules source: %w", err)
	}

	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols(columns...)
	ib.Values(uuid.New().String(), version, content, time.Now())

	query, args = ib.Build()
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to insert rules source")
		return nil, fmt.Errorf("failed to update rules source: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"version": version,
	}).Info("updated rules source")

	return r.Get(ctx)
}
