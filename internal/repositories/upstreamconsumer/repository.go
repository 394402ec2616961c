package upstreamconsumer

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

// UpstreamConsumerRepository persists upstream consumer records claimed by owners
type UpstreamConsumerRepository interface {
	GetByOwnerID(ctx context.Context, ownerID string) (*models.UpstreamConsumer, error)
	GetByUUID(ctx context.Context, upstreamUUID string) (*models.UpstreamConsumer, error)
	Replace(ctx context.Context, ownerID string, uc *models.UpstreamConsumer) (*models.UpstreamConsumer, error)
}

// Repository implements UpstreamConsumerRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new upstream consumer repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "upstream_consumers"

var columns = []string{"id", "uuid", "owner_id", "name", "type_label", "web_url", "api_url", "content_access_mode", "identity_cert", "created_at", "updated_at"}

type row struct {
	ID                string                                      `db:"id"`
	UUID              string                                      `db:"uuid"`
	OwnerID           string                                      `db:"owner_id"`
	Name              string                                      `db:"name"`
	TypeLabel         string                                      `db:"type_label"`
	WebURL            string                                      `db:"web_url"`
	APIURL            string                                      `db:"api_url"`
	ContentAccessMode string                                      `db:"content_access_mode"`
	IdentityCert      database.JSONB[*models.IdentityCertificate] `db:"identity_cert"`
	CreatedAt         time.Time                                   `db:"created_at"`
	UpdatedAt         time.Time                                   `db:"updated_at"`
}

func (r *row) toModel() *models.UpstreamConsumer {
	return &models.UpstreamConsumer{
		ID:                r.ID,
		UUID:              r.UUID,
		OwnerID:           r.OwnerID,
		Name:              r.Name,
		TypeLabel:         r.TypeLabel,
		WebURL:            r.WebURL,
		APIURL:            r.APIURL,
		ContentAccessMode: r.ContentAccessMode,
		IdentityCert:      r.IdentityCert.Data,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// GetByOwnerID gets the upstream consumer claimed by an owner
func (r *Repository) GetByOwnerID(ctx context.Context, ownerID string) (*models.UpstreamConsumer, error) {
	ctx, span := tracing.StartSpan(ctx, "UpstreamConsumerRepository.GetByOwnerID")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("owner_id", ownerID))

	query, args := sb.Build()

	var uc row
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &uc, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get upstream consumer by owner")
		return nil, fmt.Errorf("failed to get upstream consumer: %w", err)
	}

	return uc.toModel(), nil
}

// GetByUUID gets an upstream consumer by its upstream uuid
func (r *Repository) GetByUUID(ctx context.Context, upstreamUUID string) (*models.UpstreamConsumer, error) {
	ctx, span := tracing.StartSpan(ctx, "UpstreamConsumerRepository.GetByUUID")
	defer span.End()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("uuid", upstreamUUID))

	query, args := sb.Build()

	var uc row
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &uc, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get upstream consumer by uuid")
		return nil, fmt.Errorf("failed to get upstream consumer: %w", err)
	}

	return uc.toModel(), nil
}

// Replace swaps the upstream consumer record for an owner with the given one
func (r *Repository) Replace(ctx context.Context, ownerID string, uc *models.UpstreamConsumer) (*models.UpstreamConsumer, error) {
	ctx, span := tracing.StartSpan(ctx, "UpstreamConsumerRepository.Replace")
	defer span.End()

	q := database.FromContext(ctx, r.db)

	db := sqlbuilder.NewDeleteBuilder()
	db.DeleteFrom(tableName)
	db.Where(db.Equal("owner_id", ownerID))

	query, args := db.Build()
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to clear upstream consumer")
		return nil, fmt.Errorf("failed to replace upstream consumer: %w", err)
	}

	now := time.Now()

	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols(columns...)
	ib.Values(
		uuid.New().String(),
		uc.UUID,
		ownerID,
		uc.Name,
		uc.TypeLabel,
		uc.WebURL,
		uc.APIURL,
		uc.ContentAccessMode,
		database.JSONB[*models.IdentityCertificate]{Data: uc.IdentityCert},
		now,
		now,
	)

	query, args = ib.Build()
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to insert upstream consumer")
		return nil, fmt.Errorf("failed to replace upstream consumer: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"ownerId":      ownerID,
		"upstreamUuid": uc.UUID,
	}).Info("replaced upstream consumer")

	return r.GetByOwnerID(ctx, ownerID)
}
