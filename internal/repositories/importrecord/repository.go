package importrecord

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ImportRecordRepository persists the audit trail of import attempts
type ImportRecordRepository interface {
	Create(ctx context.Context, record *models.ImportRecord) (*models.ImportRecord, error)
	ListByOwnerID(ctx context.Context, ownerID string, page, pageSize int) ([]models.ImportRecord, int, error)
}

// Repository implements ImportRecordRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new import record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "import_records"

var columns = []string{
	"id", "owner_id", "status", "status_message", "file_name",
	"generated_by", "generated_date", "upstream_consumer_uuid", "upstream_consumer_name",
	"created_at",
}

// Create writes a new import record
func (r *Repository) Create(ctx context.Context, record *models.ImportRecord) (*models.ImportRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "ImportRecordRepository.Create")
	defer span.End()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = time.Now()

	sb := sqlbuilder.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols(columns...)
	sb.Values(
		record.ID, record.OwnerID, record.Status, record.StatusMessage, record.FileName,
		record.GeneratedBy, record.GeneratedDate, record.UpstreamConsumerUUID, record.UpstreamConsumerName,
		record.CreatedAt,
	)

	query, args := sb.Build()

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create import record")
		return nil, fmt.Errorf("failed to create import record: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":       record.ID,
		"owner_id": record.OwnerID,
		"status":   string(record.Status),
	}).Info("created import record")

	return record, nil
}

// ListByOwnerID lists import records for an owner, newest first
func (r *Repository) ListByOwnerID(ctx context.Context, ownerID string, page, pageSize int) ([]models.ImportRecord, int, error) {
	ctx, span := tracing.StartSpan(ctx, "ImportRecordRepository.ListByOwnerID")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(tableName)
	countSb.Where(countSb.Equal("owner_id", ownerID))
	countQuery, countArgs := countSb.Build()

	q := database.FromContext(ctx, r.db)

	var totalCount int
	if err := q.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count import records")
		return nil, 0, fmt.Errorf("failed to count import records: %w", err)
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("owner_id", ownerID))
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize)
	sb.Offset(offset)

	query, args := sb.Build()

	var records []models.ImportRecord
	if err := q.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list import records")
		return nil, 0, fmt.Errorf("failed to list import records: %w", err)
	}

	return records, totalCount, nil
}
