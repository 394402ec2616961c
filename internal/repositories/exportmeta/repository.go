package exportmeta

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ExportMetadataRepository tracks the per-owner import watermark
type ExportMetadataRepository interface {
	GetByOwnerID(ctx context.Context, ownerID string) (*models.ExportMetadata, error)
	Upsert(ctx context.Context, meta *models.ExportMetadata) (*models.ExportMetadata, error)
}

// Repository implements ExportMetadataRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new export metadata repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "export_metadata"

// GetByOwnerID gets the watermark for an owner
func (r *Repository) GetByOwnerID(ctx context.Context, ownerID string) (*models.ExportMetadata, error) {
	ctx, span := tracing.StartSpan(ctx, "ExportMetadataRepository.GetByOwnerID")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "type", "exported", "owner_id")
	sb.From(tableName)
	sb.Where(
		sb.Equal("owner_id", ownerID),
		sb.Equal("type", models.ExportMetadataTypePerUser),
	)

	query, args := sb.Build()

	var meta models.ExportMetadata
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &meta, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get export metadata")
		return nil, fmt.Errorf("failed to get export metadata: %w", err)
	}

	return &meta, nil
}

// Upsert records the watermark for an owner, replacing any prior value
func (r *Repository) Upsert(ctx context.Context, meta *models.ExportMetadata) (*models.ExportMetadata, error) {
	ctx, span := tracing.StartSpan(ctx, "ExportMetadataRepository.Upsert")
	defer span.End()

	if meta.ID == "" {
		meta.ID = uuid.New().String()
	}

	sb := sqlbuilder.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols("id", "type", "exported", "owner_id")
	sb.Values(meta.ID, meta.Type, meta.Exported, meta.OwnerID)

	query, args := sb.Build()
	query += " ON CONFLICT (owner_id, type) DO UPDATE SET exported = EXCLUDED.exported"

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to upsert export metadata")
		return nil, fmt.Errorf("failed to upsert export metadata: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"owner_id": meta.OwnerID,
		"exported": meta.Exported,
	}).Info("recorded import watermark")

	return r.GetByOwnerID(ctx, meta.OwnerID)
}
