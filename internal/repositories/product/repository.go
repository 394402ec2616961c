package product

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

// ProductRepository persists product documents per owner. The full product
// graph travels as one document; only the natural id and name are indexed.
type ProductRepository interface {
	GetByOwnerAndIDs(ctx context.Context, ownerID string, ids []string) ([]models.Product, map[string]string, error)
	Upsert(ctx context.Context, ownerID string, product *models.Product, cert string) error
}

// Repository implements ProductRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new product repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "products"

var columns = []string{"id", "owner_id", "product_id", "name", "data", "certificate", "created_at", "updated_at"}

type row struct {
	ID          string                        `db:"id"`
	OwnerID     string                        `db:"owner_id"`
	ProductID   string                        `db:"product_id"`
	Name        string                        `db:"name"`
	Data        database.JSONB[models.Product] `db:"data"`
	Certificate string                        `db:"certificate"`
	CreatedAt   time.Time                     `db:"created_at"`
	UpdatedAt   time.Time                     `db:"updated_at"`
}

// GetByOwnerAndIDs gets the products with the given natural ids for an owner,
// along with the PEM certificates keyed by product id for products that have
// one. Ids missing from the store are silently absent from the result.
func (r *Repository) GetByOwnerAndIDs(ctx context.Context, ownerID string, ids []string) ([]models.Product, map[string]string, error) {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.GetByOwnerAndIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, map[string]string{}, nil
	}

	idArgs := make([]any, 0, len(ids))
	for _, id := range ids {
		idArgs = append(idArgs, id)
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("owner_id", ownerID),
		sb.In("product_id", idArgs...),
	)
	sb.OrderBy("product_id ASC")

	query, args := sb.Build()

	var rows []row
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get products by owner and ids")
		return nil, nil, fmt.Errorf("failed to get products: %w", err)
	}

	products := make([]models.Product, 0, len(rows))
	certs := make(map[string]string)
	for i := range rows {
		products = append(products, rows[i].Data.Data)
		if rows[i].Certificate != "" {
			certs[rows[i].ProductID] = rows[i].Certificate
		}
	}

	return products, certs, nil
}

// Upsert inserts a product document or replaces it by owner and natural id.
// An empty cert keeps any previously stored certificate.
func (r *Repository) Upsert(ctx context.Context, ownerID string, product *models.Product, cert string) error {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.Upsert")
	defer span.End()

	now := time.Now()

	sb := sqlbuilder.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols(columns...)
	sb.Values(
		uuid.New().String(),
		ownerID,
		product.ID,
		product.Name,
		database.JSONB[models.Product]{Data: *product},
		cert,
		now,
		now,
	)

	query, args := sb.Build()
	query += " ON CONFLICT (owner_id, product_id) DO UPDATE SET name = EXCLUDED.name, data = EXCLUDED.data, certificate = CASE WHEN EXCLUDED.certificate = '' THEN " + tableName + ".certificate ELSE EXCLUDED.certificate END, updated_at = EXCLUDED.updated_at"

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to upsert product")
		return fmt.Errorf("failed to upsert product: %w", err)
	}

	return nil
}
