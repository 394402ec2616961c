// Package exporting serializes an owner's subscription state into the signed
// manifest archive format.
package exporting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/archive"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// OwnerStore resolves the exporting owner.
type OwnerStore interface {
	GetByKey(ctx context.Context, key string) (*models.Owner, error)
}

// SubscriptionSource provides the owner's subscriptions.
type SubscriptionSource interface {
	GetByOwnerID(ctx context.Context, ownerID string) ([]models.Subscription, error)
}

// ProductSource provides the product graph and product certificates for a set
// of product ids.
type ProductSource interface {
	GetByOwnerAndIDs(ctx context.Context, ownerID string, ids []string) ([]models.Product, map[string]string, error)
}

// ConsumerTypeSource lists the known consumer types.
type ConsumerTypeSource interface {
	List(ctx context.Context) ([]models.ConsumerType, error)
}

// DistributorVersionSource lists the known distributor versions.
type DistributorVersionSource interface {
	List(ctx context.Context) ([]models.DistributorVersion, error)
}

// RulesSource provides the stored rules content.
type RulesSource interface {
	Get(ctx context.Context) (*models.RulesSource, error)
}

// Policy decides whether a subscription may be written into a manifest.
type Policy interface {
	Exportable(sub models.Subscription, product *models.Product) bool
}

// DerivedPoolPolicy excludes subscriptions for derived pools; their capacity
// was produced locally and must not be re-exported downstream.
type DerivedPoolPolicy struct{}

func (DerivedPoolPolicy) Exportable(_ models.Subscription, product *models.Product) bool {
	if product == nil {
		return true
	}
	return product.Attributes["pool_derived"] != "true"
}

// ExporterConfig holds export settings.
type ExporterConfig struct {
	Version      string
	WebAppPrefix string
	APIURL       string
	WorkDir      string
}

// DefaultConfig returns the default export settings.
func DefaultConfig() ExporterConfig {
	return ExporterConfig{Version: "1.0"}
}

// Exporter builds signed manifest archives.
type Exporter struct {
	owners        OwnerStore
	subscriptions SubscriptionSource
	products      ProductSource
	consumerTypes ConsumerTypeSource
	distributors  DistributorVersionSource
	rules         RulesSource
	writer        *archive.Writer
	policy        Policy
	config        ExporterConfig
	logger        ectologger.Logger
}

func NewExporter(
	owners OwnerStore,
	subscriptions SubscriptionSource,
	products ProductSource,
	consumerTypes ConsumerTypeSource,
	distributors DistributorVersionSource,
	rules RulesSource,
	writer *archive.Writer,
	policy Policy,
	config ExporterConfig,
	logger ectologger.Logger,
) *Exporter {
	if policy == nil {
		policy = DerivedPoolPolicy{}
	}
	return &Exporter{
		owners:        owners,
		subscriptions: subscriptions,
		products:      products,
		consumerTypes: consumerTypes,
		distributors:  distributors,
		rules:         rules,
		writer:        writer,
		policy:        policy,
		config:        config,
		logger:        logger,
	}
}

// Export writes a full manifest for the owner to out. consumerUUID and
// principal identify the distributor and the caller generating the manifest.
func (e *Exporter) Export(ctx context.Context, ownerKey, consumerUUID, principal string, out io.Writer) error {
	ctx, span := tracing.StartSpan(ctx, "exporting.Exporter.Export")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"owner_key":     ownerKey,
		"consumer_uuid": consumerUUID,
	})

	env, err := e.buildEnvelope(ctx, ownerKey, consumerUUID, principal)
	if err != nil {
		return err
	}

	if err := e.writeArchive(ctx, env, Sections(), out); err != nil {
		log.WithError(err).Error("Failed to build manifest archive")
		return err
	}

	log.WithFields(map[string]any{
		"subscriptions": len(env.Subscriptions),
		"products":      len(env.Products),
	}).Info("Manifest export complete")
	return nil
}

// ExportCertificates writes a reduced manifest carrying only meta and the
// entitlement certificates whose serials are listed. An empty serial list
// exports every certificate.
func (e *Exporter) ExportCertificates(ctx context.Context, ownerKey, consumerUUID, principal string, serials []int64, out io.Writer) error {
	ctx, span := tracing.StartSpan(ctx, "exporting.Exporter.ExportCertificates")
	defer span.End()

	env, err := e.buildEnvelope(ctx, ownerKey, consumerUUID, principal)
	if err != nil {
		return err
	}

	if len(serials) > 0 {
		wanted := make(map[int64]struct{}, len(serials))
		for _, s := range serials {
			wanted[s] = struct{}{}
		}
		var filtered []models.Subscription
		for _, sub := range env.Subscriptions {
			if sub.Certificate == nil {
				continue
			}
			if _, ok := wanted[sub.Certificate.Serial.ID]; ok {
				filtered = append(filtered, sub)
			}
		}
		env.Subscriptions = filtered
	}

	sections := []Section{metaSection{}, entitlementCertsSection{}}
	return e.writeArchive(ctx, env, sections, out)
}

func (e *Exporter) buildEnvelope(ctx context.Context, ownerKey, consumerUUID, principal string) (*Envelope, error) {
	owner, err := e.owners.GetByKey(ctx, ownerKey)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "owner %s not found", ownerKey)
	}

	subs, err := e.subscriptions.GetByOwnerID(ctx, owner.ID)
	if err != nil {
		return nil, err
	}

	productIDs := collectProductIDs(subs)
	products, certs, err := e.products.GetByOwnerAndIDs(ctx, owner.ID, productIDs)
	if err != nil {
		return nil, err
	}

	productsByID := make(map[string]*models.Product, len(products))
	for i := range products {
		productsByID[products[i].ID] = &products[i]
	}

	var exportable []models.Subscription
	for _, sub := range subs {
		if e.policy.Exportable(sub, productsByID[sub.ProductID]) {
			exportable = append(exportable, sub)
		}
	}

	types, err := e.consumerTypes.List(ctx)
	if err != nil {
		return nil, err
	}

	distributorVersions, err := e.distributors.List(ctx)
	if err != nil {
		return nil, err
	}

	rules, err := e.rules.Get(ctx)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = &models.RulesSource{}
	}

	env := &Envelope{
		Meta: models.Meta{
			Version:       e.config.Version,
			Created:       time.Now().UTC(),
			PrincipalName: principal,
			WebAppPrefix:  e.config.WebAppPrefix,
		},
		Consumer: models.Consumer{
			UUID: consumerUUID,
			Name: owner.DisplayName,
			Type: models.ConsumerTypeRef{Label: "candlepin", Manifest: true},
			Owner: models.OwnerRef{
				ID:          owner.ID,
				Key:         owner.Key,
				DisplayName: owner.DisplayName,
			},
			UrlWeb: e.config.WebAppPrefix,
			UrlAPI: e.config.APIURL,
		},
		ConsumerTypes:       types,
		Subscriptions:       exportable,
		Products:            products,
		ProductCerts:        certs,
		Rules:               *rules,
		LegacyRules:         rules.Content,
		DistributorVersions: distributorVersions,
	}
	return env, nil
}

// writeArchive materializes the section outputs under a scratch export/ tree
// and hands the tree to the archive writer. The scratch directory is removed
// on every exit path.
func (e *Exporter) writeArchive(ctx context.Context, env *Envelope, sections []Section, out io.Writer) error {
	tempDir, err := archive.MakeTempDir(e.config.WorkDir, "export-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tempDir)

	exportDir := filepath.Join(tempDir, archive.ExportRoot)
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}

	for _, section := range sections {
		files, err := section.Export(ctx, env)
		if err != nil {
			return fmt.Errorf("failed to export %s: %w", section.Name(), err)
		}
		for rel, data := range files {
			target := filepath.Join(exportDir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", rel, err)
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", rel, err)
			}
		}
	}

	return e.writer.Write(exportDir, out)
}

func collectProductIDs(subs []models.Subscription) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, sub := range subs {
		add(sub.ProductID)
		if sub.DerivedProductID != nil {
			add(*sub.DerivedProductID)
		}
		for _, id := range sub.ProvidedProductIDs {
			add(id)
		}
	}
	return ids
}
