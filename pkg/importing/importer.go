// Package importing parses signed manifest archives, detects conflicts and
// commits the imported state for an owner in one transaction.
package importing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/archive"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reconciling"
	"github.com/Ramsey-B/fern/pkg/signing"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// OwnerStore resolves and updates the importing owner.
type OwnerStore interface {
	GetByKey(ctx context.Context, key string) (*models.Owner, error)
	SetUpstreamConsumer(ctx context.Context, ownerID string, upstreamConsumerID *string) error
}

// UpstreamConsumerStore persists the distributor identity bound to an owner.
type UpstreamConsumerStore interface {
	GetByOwnerID(ctx context.Context, ownerID string) (*models.UpstreamConsumer, error)
	GetByUUID(ctx context.Context, uuid string) (*models.UpstreamConsumer, error)
	Replace(ctx context.Context, ownerID string, uc *models.UpstreamConsumer) (*models.UpstreamConsumer, error)
}

// ExportMetadataStore persists the per-owner import watermark.
type ExportMetadataStore interface {
	GetByOwnerID(ctx context.Context, ownerID string) (*models.ExportMetadata, error)
	Upsert(ctx context.Context, meta *models.ExportMetadata) (*models.ExportMetadata, error)
}

// ConsumerTypeStore persists consumer types resolved by label.
type ConsumerTypeStore interface {
	GetByLabel(ctx context.Context, label string) (*models.ConsumerType, error)
	Upsert(ctx context.Context, ct *models.ConsumerType) (*models.ConsumerType, error)
}

// DistributorVersionStore persists known distributor versions.
type DistributorVersionStore interface {
	Upsert(ctx context.Context, dv *models.DistributorVersion) (*models.DistributorVersion, error)
}

// RulesStore persists the rules source.
type RulesStore interface {
	Get(ctx context.Context) (*models.RulesSource, error)
	Update(ctx context.Context, content string, version string) (*models.RulesSource, error)
}

// ProductStore persists imported products and their certificates.
type ProductStore interface {
	Upsert(ctx context.Context, ownerID string, product *models.Product, cert string) error
}

// ImportRecordStore persists the audit trail of import attempts.
type ImportRecordStore interface {
	Create(ctx context.Context, record *models.ImportRecord) (*models.ImportRecord, error)
}

// Reconciler applies the imported subscription batch against persisted state.
type Reconciler interface {
	Reconcile(ctx context.Context, ownerID string, imported []models.Subscription) (*reconciling.Result, error)
}

// TxRunner owns the all-or-nothing transaction boundary around one import.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ImportEvents receives import lifecycle events.
type ImportEvents interface {
	EmitImportCreated(ctx context.Context, record *models.ImportRecord) error
	EmitSubscriptionExpired(ctx context.Context, sub *models.Subscription) error
}

// ImporterConfig holds import settings.
type ImporterConfig struct {
	WorkDir string
}

// Importer orchestrates one manifest import: extract, validate, parse,
// reconcile, commit. A single pass with no retries; any failure leaves the
// owner's state untouched.
type Importer struct {
	owners        OwnerStore
	upstream      UpstreamConsumerStore
	watermarks    ExportMetadataStore
	consumerTypes ConsumerTypeStore
	distributors  DistributorVersionStore
	rules         RulesStore
	products      ProductStore
	records       ImportRecordStore
	reconciler    Reconciler
	tx            TxRunner
	events        ImportEvents
	verification  signing.VerificationPolicy
	config        ImporterConfig
	logger        ectologger.Logger
}

func NewImporter(
	owners OwnerStore,
	upstream UpstreamConsumerStore,
	watermarks ExportMetadataStore,
	consumerTypes ConsumerTypeStore,
	distributors DistributorVersionStore,
	rules RulesStore,
	products ProductStore,
	records ImportRecordStore,
	reconciler Reconciler,
	tx TxRunner,
	events ImportEvents,
	verification signing.VerificationPolicy,
	config ImporterConfig,
	logger ectologger.Logger,
) *Importer {
	if verification == nil {
		verification = signing.AlwaysPass{}
	}
	return &Importer{
		owners:        owners,
		upstream:      upstream,
		watermarks:    watermarks,
		consumerTypes: consumerTypes,
		distributors:  distributors,
		rules:         rules,
		products:      products,
		records:       records,
		reconciler:    reconciler,
		tx:            tx,
		events:        events,
		verification:  verification,
		config:        config,
		logger:        logger,
	}
}

// Import runs one manifest import for the owner identified by ownerKey. It
// returns the import record written for the attempt; on failure the record
// carries the failure status and the error is returned alongside it.
func (i *Importer) Import(ctx context.Context, ownerKey string, manifest io.Reader, fileName string, overrides models.ConflictOverrides) (*models.ImportRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "importing.Importer.Import")
	defer span.End()

	log := i.logger.WithContext(ctx).WithFields(map[string]any{
		"owner_key": ownerKey,
		"file_name": fileName,
	})

	outcome, err := i.runImport(ctx, ownerKey, manifest, overrides)
	record := i.recordOutcome(ctx, ownerKey, fileName, outcome, err)

	if err != nil {
		log.WithError(err).Error("Manifest import failed")
		return record, err
	}

	log.WithFields(map[string]any{
		"created": len(outcome.result.Created),
		"updated": len(outcome.result.Updated),
		"deleted": len(outcome.result.Deleted),
	}).Info("Manifest import complete")
	return record, nil
}

// importOutcome carries everything the import record needs out of the run.
type importOutcome struct {
	ownerID  string
	meta     *models.Meta
	consumer *models.Consumer
	result   *reconciling.Result
	warnings []string
}

func (i *Importer) runImport(ctx context.Context, ownerKey string, manifest io.Reader, overrides models.ConflictOverrides) (*importOutcome, error) {
	outcome := &importOutcome{result: &reconciling.Result{}}

	tempDir, err := archive.MakeTempDir(i.config.WorkDir, "import-")
	if err != nil {
		return outcome, err
	}
	defer os.RemoveAll(tempDir)

	innerPath, signaturePath, err := archive.Extract(manifest, tempDir)
	if err != nil {
		return outcome, err
	}

	signatureConflicts, err := i.verifySignature(innerPath, signaturePath)
	if err != nil {
		return outcome, err
	}

	exportDir, err := archive.ExtractInner(innerPath, filepath.Join(tempDir, "contents"))
	if err != nil {
		return outcome, err
	}

	mf, err := LocateManifestFiles(exportDir)
	if err != nil {
		return outcome, err
	}

	meta, err := readMeta(mf.MetaPath)
	if err != nil {
		return outcome, err
	}
	outcome.meta = meta

	consumer, err := readConsumer(mf.ConsumerPath, meta)
	if err != nil {
		return outcome, err
	}
	outcome.consumer = consumer

	err = i.tx.WithTransaction(ctx, func(ctx context.Context) error {
		return i.importObjects(ctx, ownerKey, mf, meta, consumer, overrides, signatureConflicts, outcome)
	})
	return outcome, err
}

// importObjects performs every check and write for one import inside the
// ambient transaction. Conflict checks all run to completion before anything
// is written so a conflicted import leaves zero state behind.
func (i *Importer) importObjects(
	ctx context.Context,
	ownerKey string,
	mf *ManifestFiles,
	meta *models.Meta,
	consumer *models.Consumer,
	overrides models.ConflictOverrides,
	signatureConflicts []models.Conflict,
	outcome *importOutcome,
) error {
	ctx, span := tracing.StartSpan(ctx, "importing.Importer.importObjects")
	defer span.End()

	log := i.logger.WithContext(ctx).WithFields(map[string]any{"owner_key": ownerKey})

	owner, err := i.owners.GetByKey(ctx, ownerKey)
	if err != nil {
		return err
	}
	if owner == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "owner %s not found", ownerKey)
	}
	outcome.ownerID = owner.ID

	// An upstream identity may serve only one owner at a time. Never
	// overridable; the other owner must release it first.
	claimed, err := i.upstream.GetByUUID(ctx, consumer.UUID)
	if err != nil {
		return err
	}
	if claimed != nil && claimed.OwnerID != owner.ID {
		return newDataFormatErrorf("upstream consumer %s is already bound to another owner", consumer.UUID)
	}

	conflicts := signatureConflicts

	watermark, err := i.watermarks.GetByOwnerID(ctx, owner.ID)
	if err != nil {
		return err
	}
	conflicts = append(conflicts, ValidateMetadata(meta, watermark)...)

	current, err := i.upstream.GetByOwnerID(ctx, owner.ID)
	if err != nil {
		return err
	}
	conflicts = append(conflicts, CheckDistributor(current, consumer.UUID)...)

	remaining, forced := FilterForced(conflicts, overrides)
	for _, c := range forced {
		log.WithFields(map[string]any{"conflict": string(c.Kind)}).Warnf("Conflict overridden by caller: %s", c.Message)
	}
	if len(remaining) > 0 {
		return &ConflictError{Conflicts: remaining}
	}

	// Ordered object import: rules, consumer types, distributor versions,
	// distributor identity, products, entitlements. Later steps depend on
	// earlier ones having resolved references.
	if err := i.importRules(ctx, mf, meta); err != nil {
		return err
	}

	types, err := readConsumerTypes(mf.ConsumerTypesDir)
	if err != nil {
		return err
	}
	for idx := range types {
		if _, err := i.consumerTypes.Upsert(ctx, &types[idx]); err != nil {
			return err
		}
	}

	versions, err := readDistributorVersions(mf.DistributorVersionDir)
	if err != nil {
		return err
	}
	for idx := range versions {
		if _, err := i.distributors.Upsert(ctx, &versions[idx]); err != nil {
			return err
		}
	}

	upstreamConsumer, err := i.importUpstreamConsumer(ctx, owner, mf, consumer)
	if err != nil {
		return err
	}

	cache := newProductCache(mf.ProductsDir, i.logger)
	subs, err := readEntitlements(ctx, mf.EntitlementsDir, cache, &upstreamConsumer.ID)
	if err != nil {
		return err
	}

	for _, product := range cache.All() {
		p := product
		if err := i.products.Upsert(ctx, owner.ID, &p, cache.Cert(p.ID)); err != nil {
			return err
		}
	}

	result, err := i.reconciler.Reconcile(ctx, owner.ID, subs)
	if err != nil {
		return err
	}
	outcome.result = result

	if _, err := i.watermarks.Upsert(ctx, &models.ExportMetadata{
		ID:       uuid.New().String(),
		Type:     models.ExportMetadataTypePerUser,
		Exported: meta.Created,
		OwnerID:  owner.ID,
	}); err != nil {
		return err
	}

	outcome.warnings = i.collectWarnings(ctx, subs, result)
	return nil
}

// importRules replaces the stored rules source when the manifest carries a
// version at least as new as the current one.
func (i *Importer) importRules(ctx context.Context, mf *ManifestFiles, meta *models.Meta) error {
	content, err := readRules(mf.RulesV2Dir, mf.RulesDir)
	if err != nil {
		return err
	}
	if content == "" {
		return nil
	}

	current, err := i.rules.Get(ctx)
	if err != nil {
		return err
	}
	if current != nil && compareVersions(meta.Version, current.Version) < 0 {
		i.logger.WithContext(ctx).WithFields(map[string]any{
			"manifest_version": meta.Version,
			"current_version":  current.Version,
		}).Info("Skipping rules import; stored rules are newer")
		return nil
	}

	if _, err := i.rules.Update(ctx, content, meta.Version); err != nil {
		return err
	}
	return nil
}

func (i *Importer) importUpstreamConsumer(ctx context.Context, owner *models.Owner, mf *ManifestFiles, consumer *models.Consumer) (*models.UpstreamConsumer, error) {
	identity, err := readUpstreamIdentity(mf.UpstreamConsumerDir)
	if err != nil {
		return nil, err
	}

	uc := &models.UpstreamConsumer{
		UUID:              consumer.UUID,
		Name:              consumer.Name,
		OwnerID:           owner.ID,
		TypeLabel:         consumer.Type.Label,
		WebURL:            consumer.UrlWeb,
		APIURL:            consumer.UrlAPI,
		ContentAccessMode: consumer.ContentAccessMode,
		IdentityCert:      identity,
	}

	replaced, err := i.upstream.Replace(ctx, owner.ID, uc)
	if err != nil {
		return nil, err
	}

	if err := i.owners.SetUpstreamConsumer(ctx, owner.ID, &replaced.ID); err != nil {
		return nil, err
	}
	return replaced, nil
}

func (i *Importer) collectWarnings(ctx context.Context, subs []models.Subscription, result *reconciling.Result) []string {
	var warnings []string
	if len(subs) == 0 {
		warnings = append(warnings, "No active subscriptions found in the file")
		return warnings
	}

	now := time.Now()
	expired := 0
	for idx := range result.Created {
		if !result.Created[idx].Active(now) {
			expired++
			i.emitExpired(ctx, &result.Created[idx])
		}
	}
	for idx := range result.Updated {
		if !result.Updated[idx].Active(now) {
			expired++
			i.emitExpired(ctx, &result.Updated[idx])
		}
	}
	if expired > 0 {
		warnings = append(warnings, fmt.Sprintf("%d expired subscriptions found in the file", expired))
	}
	return warnings
}

func (i *Importer) emitExpired(ctx context.Context, sub *models.Subscription) {
	if err := i.events.EmitSubscriptionExpired(ctx, sub); err != nil {
		i.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": sub.ID,
		}).Warn("Failed to emit subscription.expired event")
	}
}

// verifySignature runs the verification policy over the inner archive bytes.
// A failed check is an overridable conflict, not an immediate abort.
func (i *Importer) verifySignature(innerPath, signaturePath string) ([]models.Conflict, error) {
	payload, err := os.ReadFile(innerPath)
	if err != nil {
		return nil, &archive.ExtractionError{Msg: "failed to read inner archive", Err: err}
	}

	var signature []byte
	if signaturePath != "" {
		signature, err = os.ReadFile(signaturePath)
		if err != nil {
			return nil, &archive.ExtractionError{Msg: "failed to read signature", Err: err}
		}
	}

	return SignatureConflict(i.verification.Verify(payload, signature)), nil
}

// recordOutcome writes the audit record for the attempt. Record creation runs
// outside the import transaction so failed imports are recorded too.
func (i *Importer) recordOutcome(ctx context.Context, ownerKey, fileName string, outcome *importOutcome, importErr error) *models.ImportRecord {
	if outcome.ownerID == "" {
		// The run failed before resolving the owner inside the transaction.
		owner, err := i.owners.GetByKey(ctx, ownerKey)
		if err != nil || owner == nil {
			return nil
		}
		outcome.ownerID = owner.ID
	}

	record := &models.ImportRecord{
		ID:       uuid.New().String(),
		OwnerID:  outcome.ownerID,
		FileName: fileName,
	}
	if outcome.meta != nil {
		record.GeneratedBy = outcome.meta.PrincipalName
		created := outcome.meta.Created
		record.GeneratedDate = &created
	}
	if outcome.consumer != nil {
		record.UpstreamConsumerUUID = outcome.consumer.UUID
		record.UpstreamConsumerName = outcome.consumer.Name
	}

	switch {
	case importErr != nil:
		record.Status = models.ImportFailure
		record.StatusMessage = importErr.Error()
	case len(outcome.warnings) > 0:
		record.Status = models.ImportSuccessWithWarning
		record.StatusMessage = strings.Join(outcome.warnings, "; ")
	default:
		record.Status = models.ImportSuccess
		record.StatusMessage = fmt.Sprintf("%s file imported successfully", ownerKey)
	}

	created, err := i.records.Create(ctx, record)
	if err != nil {
		i.logger.WithContext(ctx).WithError(err).Error("Failed to write import record")
		return nil
	}

	if err := i.events.EmitImportCreated(ctx, created); err != nil {
		i.logger.WithContext(ctx).WithError(err).Warn("Failed to emit import.created event")
	}
	return created
}

// compareVersions compares dotted numeric versions. Non-numeric segments
// compare as strings.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for idx := 0; idx < len(as) || idx < len(bs); idx++ {
		var av, bv string
		if idx < len(as) {
			av = as[idx]
		}
		if idx < len(bs) {
			bv = bs[idx]
		}
		an, aerr := strconv.Atoi(av)
		bn, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
