package importing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/archive"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reconciling"
)

type stubSigner struct{}

func (stubSigner) Sign(payload []byte) ([]byte, error) {
	return []byte("test-signature"), nil
}

type fakeOwnerStore struct {
	owners       map[string]*models.Owner
	upstreamSets map[string]*string
}

func (s *fakeOwnerStore) GetByKey(ctx context.Context, key string) (*models.Owner, error) {
	return s.owners[key], nil
}

func (s *fakeOwnerStore) SetUpstreamConsumer(ctx context.Context, ownerID string, upstreamConsumerID *string) error {
	if s.upstreamSets == nil {
		s.upstreamSets = make(map[string]*string)
	}
	s.upstreamSets[ownerID] = upstreamConsumerID
	return nil
}

type fakeUpstreamStore struct {
	byOwner map[string]*models.UpstreamConsumer
	byUUID  map[string]*models.UpstreamConsumer
}

func (s *fakeUpstreamStore) GetByOwnerID(ctx context.Context, ownerID string) (*models.UpstreamConsumer, error) {
	return s.byOwner[ownerID], nil
}

func (s *fakeUpstreamStore) GetByUUID(ctx context.Context, uuid string) (*models.UpstreamConsumer, error) {
	return s.byUUID[uuid], nil
}

func (s *fakeUpstreamStore) Replace(ctx context.Context, ownerID string, uc *models.UpstreamConsumer) (*models.UpstreamConsumer, error) {
	replaced := *uc
	replaced.ID = "uc-" + ownerID
	if s.byOwner == nil {
		s.byOwner = make(map[string]*models.UpstreamConsumer)
	}
	s.byOwner[ownerID] = &replaced
	return &replaced, nil
}

type fakeWatermarkStore struct {
	byOwner  map[string]*models.ExportMetadata
	upserted *models.ExportMetadata
}

func (s *fakeWatermarkStore) GetByOwnerID(ctx context.Context, ownerID string) (*models.ExportMetadata, error) {
	return s.byOwner[ownerID], nil
}

func (s *fakeWatermarkStore) Upsert(ctx context.Context, meta *models.ExportMetadata) (*models.ExportMetadata, error) {
	s.upserted = meta
	return meta, nil
}

type fakeConsumerTypeStore struct {
	upserted []models.ConsumerType
}

func (s *fakeConsumerTypeStore) GetByLabel(ctx context.Context, label string) (*models.ConsumerType, error) {
	return nil, nil
}

func (s *fakeConsumerTypeStore) Upsert(ctx context.Context, ct *models.ConsumerType) (*models.ConsumerType, error) {
	s.upserted = append(s.upserted, *ct)
	return ct, nil
}

type fakeDistributorStore struct {
	upserted []models.DistributorVersion
}

func (s *fakeDistributorStore) Upsert(ctx context.Context, dv *models.DistributorVersion) (*models.DistributorVersion, error) {
	s.upserted = append(s.upserted, *dv)
	return dv, nil
}

type fakeRulesStore struct {
	current        *models.RulesSource
	updatedContent string
	updatedVersion string
}

func (s *fakeRulesStore) Get(ctx context.Context) (*models.RulesSource, error) {
	return s.current, nil
}

func (s *fakeRulesStore) Update(ctx context.Context, content string, version string) (*models.RulesSource, error) {
	s.updatedContent = content
	s.updatedVersion = version
	return &models.RulesSource{Version: version, Content: content}, nil
}

type productUpsert struct {
	ownerID string
	product models.Product
	cert    string
}

type fakeProductStore struct {
	upserts []productUpsert
}

func (s *fakeProductStore) Upsert(ctx context.Context, ownerID string, product *models.Product, cert string) error {
	s.upserts = append(s.upserts, productUpsert{ownerID: ownerID, product: *product, cert: cert})
	return nil
}

type fakeRecordStore struct {
	records []models.ImportRecord
}

func (s *fakeRecordStore) Create(ctx context.Context, record *models.ImportRecord) (*models.ImportRecord, error) {
	s.records = append(s.records, *record)
	return record, nil
}

type fakeReconciler struct {
	result   *reconciling.Result
	err      error
	ownerID  string
	imported []models.Subscription
	called   bool
}

func (r *fakeReconciler) Reconcile(ctx context.Context, ownerID string, imported []models.Subscription) (*reconciling.Result, error) {
	r.called = true
	r.ownerID = ownerID
	r.imported = imported
	if r.err != nil {
		return nil, r.err
	}
	if r.result != nil {
		return r.result, nil
	}
	return &reconciling.Result{Created: imported}, nil
}

type fakeTx struct {
	calls int
}

func (t *fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

type fakeImportEvents struct {
	created []models.ImportRecord
	expired []models.Subscription
}

func (e *fakeImportEvents) EmitImportCreated(ctx context.Context, record *models.ImportRecord) error {
	e.created = append(e.created, *record)
	return nil
}

func (e *fakeImportEvents) EmitSubscriptionExpired(ctx context.Context, sub *models.Subscription) error {
	e.expired = append(e.expired, *sub)
	return nil
}

type failVerifier struct{}

func (failVerifier) Verify(payload, signature []byte) error {
	return errors.New("signature mismatch")
}

// importHarness bundles the fakes wired into one Importer.
type importHarness struct {
	importer   *Importer
	owners     *fakeOwnerStore
	upstream   *fakeUpstreamStore
	watermarks *fakeWatermarkStore
	types      *fakeConsumerTypeStore
	rules      *fakeRulesStore
	products   *fakeProductStore
	records    *fakeRecordStore
	reconciler *fakeReconciler
	tx         *fakeTx
	events     *fakeImportEvents
}

func newImportHarness(t *testing.T) *importHarness {
	h := &importHarness{
		owners: &fakeOwnerStore{owners: map[string]*models.Owner{
			"acme": {ID: "owner-1", Key: "acme", DisplayName: "Acme"},
		}},
		upstream:   &fakeUpstreamStore{},
		watermarks: &fakeWatermarkStore{byOwner: map[string]*models.ExportMetadata{}},
		types:      &fakeConsumerTypeStore{},
		rules:      &fakeRulesStore{},
		products:   &fakeProductStore{},
		records:    &fakeRecordStore{},
		reconciler: &fakeReconciler{},
		tx:         &fakeTx{},
		events:     &fakeImportEvents{},
	}
	h.importer = NewImporter(
		h.owners,
		h.upstream,
		h.watermarks,
		h.types,
		&fakeDistributorStore{},
		h.rules,
		h.products,
		h.records,
		h.reconciler,
		h.tx,
		h.events,
		nil,
		ImporterConfig{WorkDir: t.TempDir()},
		testLogger(),
	)
	return h
}

const manifestCreated = "2025-06-01T12:00:00Z"

// buildManifest packages the given export tree entries into a signed outer
// archive the way a distributor would ship it.
func buildManifest(t *testing.T, extra map[string]string) io.Reader {
	t.Helper()
	files := map[string]string{
		"meta.json":                  `{"version":"1.0","created":"` + manifestCreated + `","principalName":"admin"}`,
		"consumer.json":              `{"uuid":"dist-uuid","name":"distributor","type":{"label":"candlepin","manifest":true}}`,
		"consumer_types/system.json": `{"label":"system","manifest":false}`,
		"rules2/rules.js":            "// rules v1",
	}
	for rel, content := range extra {
		files[rel] = content
	}

	root := t.TempDir()
	exportDir := root + "/" + archive.ExportRoot
	for rel, content := range files {
		writeManifestFile(t, exportDir, rel, content)
	}

	var buf bytes.Buffer
	require.NoError(t, archive.NewWriter(stubSigner{}).Write(exportDir, &buf))
	return bytes.NewReader(buf.Bytes())
}

func TestImporter_Import(t *testing.T) {
	ctx := context.Background()

	t.Run("imports a full manifest", func(t *testing.T) {
		h := newImportHarness(t)
		future := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
		manifest := buildManifest(t, map[string]string{
			"products/100.json": `{"id":"100","name":"Product"}`,
			"products/100.pem":  "PRODUCT CERT",
			"entitlements/ent1.json": `{
				"id": "ent1",
				"quantity": 5,
				"startDate": "2025-01-01T00:00:00Z",
				"endDate": "` + future + `",
				"pool": {"id": "pool1", "productId": "100"}
			}`,
		})

		record, err := h.importer.Import(ctx, "acme", manifest, "manifest.zip", models.NewConflictOverrides())

		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, models.ImportSuccess, record.Status)
		assert.Equal(t, "owner-1", record.OwnerID)
		assert.Equal(t, "admin", record.GeneratedBy)
		assert.Equal(t, "dist-uuid", record.UpstreamConsumerUUID)

		assert.Equal(t, 1, h.tx.calls)
		assert.True(t, h.reconciler.called)
		assert.Equal(t, "owner-1", h.reconciler.ownerID)
		require.Len(t, h.reconciler.imported, 1)
		require.NotNil(t, h.reconciler.imported[0].UpstreamConsumerID)
		assert.Equal(t, "uc-owner-1", *h.reconciler.imported[0].UpstreamConsumerID)

		require.Len(t, h.products.upserts, 1)
		assert.Equal(t, "owner-1", h.products.upserts[0].ownerID)
		assert.Equal(t, "PRODUCT CERT", h.products.upserts[0].cert)

		assert.Equal(t, "// rules v1", h.rules.updatedContent)
		assert.Equal(t, "1.0", h.rules.updatedVersion)
		require.Len(t, h.types.upserted, 1)
		assert.Equal(t, "system", h.types.upserted[0].Label)

		require.NotNil(t, h.watermarks.upserted)
		expected, _ := time.Parse(time.RFC3339, manifestCreated)
		assert.True(t, h.watermarks.upserted.Exported.Equal(expected))

		require.Contains(t, h.owners.upstreamSets, "owner-1")
		require.Len(t, h.events.created, 1)
	})

	t.Run("empty manifest succeeds with warning", func(t *testing.T) {
		h := newImportHarness(t)

		record, err := h.importer.Import(ctx, "acme", buildManifest(t, nil), "manifest.zip", models.NewConflictOverrides())

		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, models.ImportSuccessWithWarning, record.Status)
		assert.Contains(t, record.StatusMessage, "No active subscriptions")
	})

	t.Run("unknown owner", func(t *testing.T) {
		h := newImportHarness(t)

		record, err := h.importer.Import(ctx, "ghost", buildManifest(t, nil), "manifest.zip", models.NewConflictOverrides())

		require.Error(t, err)
		assert.True(t, httperror.IsHTTPError(err))
		assert.Nil(t, record)
		assert.False(t, h.reconciler.called)
	})

	t.Run("duplicate manifest raises conflict and writes nothing", func(t *testing.T) {
		h := newImportHarness(t)
		created, _ := time.Parse(time.RFC3339, manifestCreated)
		h.watermarks.byOwner["owner-1"] = &models.ExportMetadata{Exported: created, OwnerID: "owner-1"}

		record, err := h.importer.Import(ctx, "acme", buildManifest(t, nil), "manifest.zip", models.NewConflictOverrides())

		conflictErr, ok := AsConflictError(err)
		require.True(t, ok)
		require.Len(t, conflictErr.Conflicts, 1)
		assert.Equal(t, models.ConflictManifestSame, conflictErr.Conflicts[0].Kind)

		assert.False(t, h.reconciler.called)
		assert.Empty(t, h.rules.updatedContent)
		assert.Nil(t, h.watermarks.upserted)

		// failed attempts are still recorded
		require.NotNil(t, record)
		assert.Equal(t, models.ImportFailure, record.Status)
	})

	t.Run("forced duplicate proceeds", func(t *testing.T) {
		h := newImportHarness(t)
		created, _ := time.Parse(time.RFC3339, manifestCreated)
		h.watermarks.byOwner["owner-1"] = &models.ExportMetadata{Exported: created, OwnerID: "owner-1"}

		overrides := models.NewConflictOverrides(models.ConflictManifestSame)
		record, err := h.importer.Import(ctx, "acme", buildManifest(t, nil), "manifest.zip", overrides)

		require.NoError(t, err)
		require.NotNil(t, record)
		require.NotNil(t, h.watermarks.upserted)
	})

	t.Run("distributor conflict aggregates with metadata conflict", func(t *testing.T) {
		h := newImportHarness(t)
		created, _ := time.Parse(time.RFC3339, manifestCreated)
		h.watermarks.byOwner["owner-1"] = &models.ExportMetadata{Exported: created.Add(time.Hour), OwnerID: "owner-1"}
		h.upstream.byOwner = map[string]*models.UpstreamConsumer{
			"owner-1": {UUID: "other-dist", OwnerID: "owner-1"},
		}

		_, err := h.importer.Import(ctx, "acme", buildManifest(t, nil), "manifest.zip", models.NewConflictOverrides())

		conflictErr, ok := AsConflictError(err)
		require.True(t, ok)
		assert.ElementsMatch(t, []models.ConflictKind{models.ConflictManifestOld, models.ConflictDistributor}, conflictErr.Kinds())
	})

	t.Run("cross-owner upstream claim is never overridable", func(t *testing.T) {
		h := newImportHarness(t)
		h.upstream.byUUID = map[string]*models.UpstreamConsumer{
			"dist-uuid": {UUID: "dist-uuid", OwnerID: "owner-other"},
		}

		overrides := models.NewConflictOverrides(
			models.ConflictManifestOld,
			models.ConflictManifestSame,
			models.ConflictDistributor,
			models.ConflictSignature,
		)
		_, err := h.importer.Import(ctx, "acme", buildManifest(t, nil), "manifest.zip", overrides)

		formatErr, ok := AsDataFormatError(err)
		require.True(t, ok)
		assert.Contains(t, formatErr.Msg, "already bound to another owner")
		assert.False(t, h.reconciler.called)
	})

	t.Run("failed signature is an overridable conflict", func(t *testing.T) {
		h := newImportHarness(t)
		h.importer.verification = failVerifier{}

		_, err := h.importer.Import(ctx, "acme", buildManifest(t, nil), "manifest.zip", models.NewConflictOverrides())

		conflictErr, ok := AsConflictError(err)
		require.True(t, ok)
		require.Len(t, conflictErr.Conflicts, 1)
		assert.Equal(t, models.ConflictSignature, conflictErr.Conflicts[0].Kind)

		_, err = h.importer.Import(ctx, "acme", buildManifest(t, nil), "manifest.zip", models.NewConflictOverrides(models.ConflictSignature))
		require.NoError(t, err)
	})

	t.Run("persistence failure surfaces through the transaction", func(t *testing.T) {
		h := newImportHarness(t)
		h.reconciler.err = errors.New("write failed")

		record, err := h.importer.Import(ctx, "acme", buildManifest(t, nil), "manifest.zip", models.NewConflictOverrides())

		require.EqualError(t, err, "write failed")
		assert.Equal(t, 1, h.tx.calls)
		assert.Nil(t, h.watermarks.upserted)
		require.NotNil(t, record)
		assert.Equal(t, models.ImportFailure, record.Status)
	})

	t.Run("stale rules are not imported", func(t *testing.T) {
		h := newImportHarness(t)
		h.rules.current = &models.RulesSource{Version: "2.5", Content: "// newer"}

		_, err := h.importer.Import(ctx, "acme", buildManifest(t, nil), "manifest.zip", models.NewConflictOverrides())

		require.NoError(t, err)
		assert.Empty(t, h.rules.updatedContent)
	})
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, compareVersions("1.0", "1.1"))
	assert.Equal(t, 1, compareVersions("2.0", "1.9"))
	assert.Equal(t, 0, compareVersions("1.0", "1.0"))
	assert.Equal(t, -1, compareVersions("1.0", "1.0.1"))
	assert.Equal(t, 1, compareVersions("1.10", "1.9"))
}
