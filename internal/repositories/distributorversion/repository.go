package distributorversion

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

// DistributorVersionRepository persists known distributor versions
type DistributorVersionRepository interface {
	GetByName(ctx context.Context, name string) (*models.DistributorVersion, error)
	List(ctx context.Context) ([]models.DistributorVersion, error)
	Upsert(ctx context.Context, dv *models.DistributorVersion) (*models.DistributorVersion, error)
}

// Repository implements DistributorVersionRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new distributor version repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "distributor_versions"

var columns = []string{"id", "name", "display_name", "capabilities", "created_at", "updated_at"}

type row struct {
	ID           string                   `db:"id"`
	Name         string                   `db:"name"`
	DisplayName  string                   `db:"display_name"`
	Capabilities database.JSONB[[]string] `db:"capabilities"`
	CreatedAt    time.Time                `db:"created_at"`
	UpdatedAt    time.Time                `db:"updated_at"`
}

func (r *row) toModel() *models.DistributorVersion {
	return &models.DistributorVersion{
		ID:           r.ID,
		Name:         r.Name,
		DisplayName:  r.DisplayName,
		Capabilities: r.Capabilities.Data,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// GetByName gets a distributor version by name
func (r *Repository) GetByName(ctx context.Context, name string) (*models.DistributorVersion, error) {
	ctx, span := tracing.StartSpan(ctx, "DistributorVersionRepository.GetByName")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("name", name))

	query, args := sb.Build()

	var dv row
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &dv, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get distributor version by name")
		return nil, fmt.Errorf("failed to get distributor version: %w", err)
	}

	return dv.toModel(), nil
}

// List lists all distributor versions
func (r *Repository) List(ctx context.Context) ([]models.DistributorVersion, error) {
	ctx, span := tracing.StartSpan(ctx, "DistributorVersionRepository.List")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.OrderBy("name ASC")

	query, args := sb.Build()

	var rows []row
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list distributor versions")
		return nil, fmt.Errorf("failed to list distributor versions: %w", err)
	}

	versions := make([]models.DistributorVersion, 0, len(rows))
	for i := range rows {
		versions = append(versions, *rows[i].toModel())
	}

	return versions, nil
}

// Upsert inserts a distributor version or refreshes it by name
func (r *Repository) Upsert(ctx context.Context, dv *models.DistributorVersion) (*models.DistributorVersion, error) {
	ctx, span := tracing.StartSpan(ctx, "DistributorVersionRepository.Upsert")
	defer span.End()

	now := time.Now()

	sb := sqlbuilder.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols(columns...)
	sb.Values(
		uuid.New().String(),
		dv.Name,
		dv.DisplayName,
		database.JSONB[[]string]{Data: dv.Capabilities},
		now,
		now,
	)

	query, args := sb.Build()
	query += " ON CONFLICT (name) DO UPDATE SET display_name = EXCLUDED.display_name, capabilities = EXCLUDED.capabilities, updated_at = EXCLUDED.updated_at"

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to upsert distributor version")
		return nil, fmt.Errorf("failed to upsert distributor version: %w", err)
	}

	return r.GetByName(ctx, dv.Name)
}
