package importing

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
)

// unknownVendor replaces blank vendor strings on imported content. Older
// manifests shipped empty vendors; leaving them blank regresses data quality
// downstream.
const unknownVendor = "unknown"

// importedMetadataExpiration is forced onto imported content. Upstream
// already applied the real expiration; a small nonzero value keeps standalone
// deployments refreshing quickly without zero being read as unset.
const importedMetadataExpiration = int64(1)

func readJSONFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &DataFormatError{Msg: "failed to read " + filepath.Base(path), Err: err}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &DataFormatError{Msg: "failed to parse " + filepath.Base(path), Err: err}
	}
	return nil
}

func readMeta(path string) (*models.Meta, error) {
	var meta models.Meta
	if err := readJSONFile(path, &meta); err != nil {
		return nil, err
	}
	if meta.Created.IsZero() {
		return nil, newDataFormatErrorf("meta.json does not carry a created timestamp")
	}
	return &meta, nil
}

// readConsumer parses consumer.json. Older manifests carry the web app prefix
// in the meta header instead of the consumer record, so meta is the fallback.
func readConsumer(path string, meta *models.Meta) (*models.Consumer, error) {
	var consumer models.Consumer
	if err := readJSONFile(path, &consumer); err != nil {
		return nil, err
	}
	if consumer.UUID == "" {
		return nil, newDataFormatErrorf("consumer.json does not carry a uuid")
	}
	if consumer.UrlWeb == "" {
		consumer.UrlWeb = meta.WebAppPrefix
	}
	return &consumer, nil
}

func readConsumerTypes(dir string) ([]models.ConsumerType, error) {
	files, err := listJSONFiles(dir)
	if err != nil {
		return nil, err
	}

	types := make([]models.ConsumerType, 0, len(files))
	for _, f := range files {
		var ct models.ConsumerType
		if err := readJSONFile(f, &ct); err != nil {
			return nil, err
		}
		// Server-assigned ids never survive import.
		ct.ID = ""
		types = append(types, ct)
	}
	return types, nil
}

func readDistributorVersions(dir string) ([]models.DistributorVersion, error) {
	files, err := listJSONFiles(dir)
	if err != nil {
		return nil, err
	}

	versions := make([]models.DistributorVersion, 0, len(files))
	for _, f := range files {
		var dv models.DistributorVersion
		if err := readJSONFile(f, &dv); err != nil {
			return nil, err
		}
		dv.ID = ""
		versions = append(versions, dv)
	}
	return versions, nil
}

func readUpstreamIdentity(dir string) (*models.IdentityCertificate, error) {
	files, err := listJSONFiles(dir)
	if err != nil || len(files) == 0 {
		return nil, err
	}

	var cert models.IdentityCertificate
	if err := readJSONFile(files[0], &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

// readRules prefers the current rules2/rules.js content and falls back to the
// legacy rules directory for pre-rules2 manifests.
func readRules(rulesV2Dir, legacyDir string) (string, error) {
	current := filepath.Join(rulesV2Dir, "rules.js")
	if fileExists(current) {
		raw, err := os.ReadFile(current)
		if err != nil {
			return "", &DataFormatError{Msg: "failed to read rules file", Err: err}
		}
		return string(raw), nil
	}

	legacy := filepath.Join(legacyDir, "default-rules.js")
	if fileExists(legacy) {
		raw, err := os.ReadFile(legacy)
		if err != nil {
			return "", &DataFormatError{Msg: "failed to read legacy rules file", Err: err}
		}
		return string(raw), nil
	}

	return "", nil
}

// NormalizeProduct applies the import normalization rules in place: server
// ids are stripped, the multiplier is reset because upstream already applied
// it, content expiration is pinned and blank vendors get the sentinel value.
func NormalizeProduct(product *models.Product) {
	product.UUID = ""
	product.Multiplier = 1

	for i := range product.Content {
		content := &product.Content[i].Content
		content.UUID = ""
		content.MetadataExpiration = importedMetadataExpiration
		if strings.TrimSpace(content.Vendor) == "" {
			content.Vendor = unknownVendor
		}
	}
}

// productCache lazily loads and normalizes product files from the manifest's
// products directory. Resolution is closed world: references only resolve to
// sibling files in the same manifest.
type productCache struct {
	dir     string
	loaded  map[string]*models.Product
	logger  ectologger.Logger
}

func newProductCache(dir string, logger ectologger.Logger) *productCache {
	return &productCache{
		dir:    dir,
		loaded: make(map[string]*models.Product),
		logger: logger,
	}
}

// Get returns the normalized product with resolved child references, loading
// it from disk on first use. A missing file returns nil.
func (c *productCache) Get(ctx context.Context, id string) (*models.Product, error) {
	if product, ok := c.loaded[id]; ok {
		return product, nil
	}

	path := filepath.Join(c.dir, id+".json")
	if !fileExists(path) {
		return nil, nil
	}

	var product models.Product
	if err := readJSONFile(path, &product); err != nil {
		return nil, err
	}
	NormalizeProduct(&product)

	// Register before resolving children so reference cycles terminate.
	c.loaded[id] = &product

	if err := c.resolveChildren(ctx, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// Cert returns the PEM product certificate shipped alongside the product
// file, empty when the manifest carries none.
func (c *productCache) Cert(id string) string {
	raw, err := os.ReadFile(filepath.Join(c.dir, id+".pem"))
	if err != nil {
		return ""
	}
	return string(raw)
}

// All returns every product loaded so far.
func (c *productCache) All() []models.Product {
	out := make([]models.Product, 0, len(c.loaded))
	for _, p := range c.loaded {
		out = append(out, *p)
	}
	return out
}

// resolveChildren swaps embedded child product stubs for their fully loaded
// siblings. A reference to a product missing from the manifest is loudly
// logged but non-fatal; the stub is left for downstream consumers.
func (c *productCache) resolveChildren(ctx context.Context, product *models.Product) error {
	if product.DerivedProduct != nil {
		resolved, err := c.Get(ctx, product.DerivedProduct.ID)
		if err != nil {
			return err
		}
		if resolved != nil {
			product.DerivedProduct = resolved
		} else {
			c.logger.WithContext(ctx).WithFields(map[string]any{
				"product_id": product.ID,
				"derived_id": product.DerivedProduct.ID,
			}).Warn("Derived product reference does not resolve within the manifest")
			NormalizeProduct(product.DerivedProduct)
		}
	}

	for i, provided := range product.ProvidedProducts {
		resolved, err := c.Get(ctx, provided.ID)
		if err != nil {
			return err
		}
		if resolved != nil {
			product.ProvidedProducts[i] = resolved
		} else {
			c.logger.WithContext(ctx).WithFields(map[string]any{
				"product_id":  product.ID,
				"provided_id": provided.ID,
			}).Warn("Provided product reference does not resolve within the manifest")
			NormalizeProduct(product.ProvidedProducts[i])
		}
	}
	return nil
}

// readEntitlements parses entitlements/ into transient subscriptions. Unlike
// product graph resolution, a subscription whose product is missing from the
// manifest is a hard failure; an orphaned subscription cannot be entitled.
func readEntitlements(ctx context.Context, dir string, products *productCache, upstreamConsumerID *string) ([]models.Subscription, error) {
	files, err := listJSONFiles(dir)
	if err != nil {
		return nil, err
	}

	subs := make([]models.Subscription, 0, len(files))
	for _, f := range files {
		var wire entitlementWire
		if err := readJSONFile(f, &wire); err != nil {
			return nil, err
		}

		product, err := products.Get(ctx, wire.Pool.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, newDataFormatErrorf("unable to find product with id %s for entitlement %s", wire.Pool.ProductID, wire.ID)
		}

		for _, providedID := range wire.Pool.ProvidedProductIDs {
			provided, err := products.Get(ctx, providedID)
			if err != nil {
				return nil, err
			}
			if provided == nil {
				return nil, newDataFormatErrorf("unable to find product with id %s for entitlement %s", providedID, wire.ID)
			}
		}
		if wire.Pool.DerivedProductID != nil {
			derived, err := products.Get(ctx, *wire.Pool.DerivedProductID)
			if err != nil {
				return nil, err
			}
			if derived == nil {
				return nil, newDataFormatErrorf("unable to find product with id %s for entitlement %s", *wire.Pool.DerivedProductID, wire.ID)
			}
		}

		start, err := parseWireTime(wire.StartDate)
		if err != nil {
			return nil, newDataFormatErrorf("entitlement %s carries an invalid start date %q", wire.ID, wire.StartDate)
		}
		end, err := parseWireTime(wire.EndDate)
		if err != nil {
			return nil, newDataFormatErrorf("entitlement %s carries an invalid end date %q", wire.ID, wire.EndDate)
		}

		poolID := wire.Pool.ID
		entID := wire.ID
		subs = append(subs, models.Subscription{
			ProductID:             wire.Pool.ProductID,
			Quantity:              wire.Quantity,
			StartDate:             start,
			EndDate:               end,
			ContractNumber:        wire.Pool.ContractNumber,
			AccountNumber:         wire.Pool.AccountNumber,
			OrderNumber:           wire.Pool.OrderNumber,
			UpstreamPoolID:        &poolID,
			UpstreamEntitlementID: &entID,
			UpstreamConsumerID:    upstreamConsumerID,
			DerivedProductID:      wire.Pool.DerivedProductID,
			ProvidedProductIDs:    wire.Pool.ProvidedProductIDs,
			Certificate:           wire.Certificate,
		})
	}
	return subs, nil
}

// entitlementWire mirrors the export wire form in the exporting package.
type entitlementWire struct {
	ID          string                           `json:"id"`
	Pool        entitlementPoolWire              `json:"pool"`
	Quantity    int64                            `json:"quantity"`
	StartDate   string                           `json:"startDate"`
	EndDate     string                           `json:"endDate"`
	Certificate *models.SubscriptionCertificate  `json:"certificate,omitempty"`
}

type entitlementPoolWire struct {
	ID                 string   `json:"id"`
	ProductID          string   `json:"productId"`
	DerivedProductID   *string  `json:"derivedProductId,omitempty"`
	ProvidedProductIDs []string `json:"providedProducts,omitempty"`
	ContractNumber     string   `json:"contractNumber,omitempty"`
	AccountNumber      string   `json:"accountNumber,omitempty"`
	OrderNumber        string   `json:"orderNumber,omitempty"`
}

func parseWireTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, value)
}
