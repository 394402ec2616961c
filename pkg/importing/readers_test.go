package importing

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {})
}

func TestReadMeta(t *testing.T) {
	t.Run("valid header", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "meta.json", `{"version":"1.0","created":"2025-06-01T12:00:00Z","principalName":"admin"}`)

		meta, err := readMeta(dir + "/meta.json")

		require.NoError(t, err)
		assert.Equal(t, "1.0", meta.Version)
		assert.Equal(t, "admin", meta.PrincipalName)
	})

	t.Run("missing created timestamp", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "meta.json", `{"version":"1.0"}`)

		_, err := readMeta(dir + "/meta.json")

		var formatErr *DataFormatError
		require.ErrorAs(t, err, &formatErr)
	})

	t.Run("malformed json", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "meta.json", `{`)

		_, err := readMeta(dir + "/meta.json")

		var formatErr *DataFormatError
		require.ErrorAs(t, err, &formatErr)
	})
}

func TestReadConsumer(t *testing.T) {
	meta := &models.Meta{WebAppPrefix: "prefix.example.com/subscriptions"}

	t.Run("missing uuid", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "consumer.json", `{"name":"dist"}`)

		_, err := readConsumer(dir+"/consumer.json", meta)

		var formatErr *DataFormatError
		require.ErrorAs(t, err, &formatErr)
	})

	t.Run("web url falls back to meta prefix", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "consumer.json", `{"uuid":"abc","name":"dist"}`)

		consumer, err := readConsumer(dir+"/consumer.json", meta)

		require.NoError(t, err)
		assert.Equal(t, "prefix.example.com/subscriptions", consumer.UrlWeb)
	})

	t.Run("explicit web url wins", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "consumer.json", `{"uuid":"abc","urlWeb":"direct.example.com"}`)

		consumer, err := readConsumer(dir+"/consumer.json", meta)

		require.NoError(t, err)
		assert.Equal(t, "direct.example.com", consumer.UrlWeb)
	})
}

func TestReadRules(t *testing.T) {
	t.Run("prefers rules2", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "rules2/rules.js", "// current")
		writeManifestFile(t, dir, "rules/default-rules.js", "// legacy")

		content, err := readRules(dir+"/rules2", dir+"/rules")

		require.NoError(t, err)
		assert.Equal(t, "// current", content)
	})

	t.Run("falls back to legacy", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "rules/default-rules.js", "// legacy")

		content, err := readRules(dir+"/rules2", dir+"/rules")

		require.NoError(t, err)
		assert.Equal(t, "// legacy", content)
	})

	t.Run("nothing present", func(t *testing.T) {
		dir := t.TempDir()

		content, err := readRules(dir+"/rules2", dir+"/rules")

		require.NoError(t, err)
		assert.Empty(t, content)
	})
}

func TestNormalizeProduct(t *testing.T) {
	product := &models.Product{
		UUID:       "server-uuid",
		ID:         "100",
		Multiplier: 25,
		Content: []models.ProductContent{
			{Content: models.Content{ID: "c1", UUID: "content-uuid", Vendor: "  ", MetadataExpiration: 86400}},
			{Content: models.Content{ID: "c2", Vendor: "Red Hat"}},
		},
	}

	NormalizeProduct(product)

	assert.Empty(t, product.UUID)
	assert.Equal(t, int64(1), product.Multiplier)
	assert.Empty(t, product.Content[0].Content.UUID)
	assert.Equal(t, int64(1), product.Content[0].Content.MetadataExpiration)
	assert.Equal(t, "unknown", product.Content[0].Content.Vendor)
	assert.Equal(t, "Red Hat", product.Content[1].Content.Vendor)
	assert.Equal(t, int64(1), product.Content[1].Content.MetadataExpiration)

	// a second pass changes nothing
	before := *product
	NormalizeProduct(product)
	assert.Equal(t, before.Multiplier, product.Multiplier)
	assert.Equal(t, before.Content[0].Content.Vendor, product.Content[0].Content.Vendor)
}

func TestProductCache(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves provided products from siblings", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "100.json", `{"id":"100","name":"Everything","multiplier":5,"providedProducts":[{"id":"200"}]}`)
		writeManifestFile(t, dir, "200.json", `{"id":"200","name":"Provided"}`)

		cache := newProductCache(dir, testLogger())

		product, err := cache.Get(ctx, "100")

		require.NoError(t, err)
		require.NotNil(t, product)
		assert.Equal(t, int64(1), product.Multiplier)
		require.Len(t, product.ProvidedProducts, 1)
		assert.Equal(t, "Provided", product.ProvidedProducts[0].Name)
		assert.Len(t, cache.All(), 2)
	})

	t.Run("dangling reference leaves normalized stub", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "100.json", `{"id":"100","name":"Top","derivedProduct":{"id":"999","uuid":"stale","multiplier":3}}`)

		cache := newProductCache(dir, testLogger())

		product, err := cache.Get(ctx, "100")

		require.NoError(t, err)
		require.NotNil(t, product.DerivedProduct)
		assert.Equal(t, "999", product.DerivedProduct.ID)
		assert.Empty(t, product.DerivedProduct.UUID)
		assert.Equal(t, int64(1), product.DerivedProduct.Multiplier)
	})

	t.Run("missing product returns nil", func(t *testing.T) {
		cache := newProductCache(t.TempDir(), testLogger())

		product, err := cache.Get(ctx, "404")

		require.NoError(t, err)
		assert.Nil(t, product)
	})

	t.Run("cert reads sibling pem", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "100.pem", "PEM DATA")

		cache := newProductCache(dir, testLogger())

		assert.Equal(t, "PEM DATA", cache.Cert("100"))
		assert.Empty(t, cache.Cert("200"))
	})
}

func TestReadEntitlements(t *testing.T) {
	ctx := context.Background()
	upstreamID := "upstream-1"

	t.Run("builds subscriptions from wire form", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "products/100.json", `{"id":"100","name":"Product"}`)
		writeManifestFile(t, dir, "entitlements/ent1.json", `{
			"id": "ent1",
			"quantity": 10,
			"startDate": "2025-01-01T00:00:00Z",
			"endDate": "2026-01-01T00:00:00Z",
			"pool": {"id": "pool1", "productId": "100", "contractNumber": "CN-1"}
		}`)

		cache := newProductCache(dir+"/products", testLogger())

		subs, err := readEntitlements(ctx, dir+"/entitlements", cache, &upstreamID)

		require.NoError(t, err)
		require.Len(t, subs, 1)
		sub := subs[0]
		assert.Equal(t, "100", sub.ProductID)
		assert.Equal(t, int64(10), sub.Quantity)
		assert.Equal(t, "CN-1", sub.ContractNumber)
		require.NotNil(t, sub.UpstreamPoolID)
		assert.Equal(t, "pool1", *sub.UpstreamPoolID)
		require.NotNil(t, sub.UpstreamEntitlementID)
		assert.Equal(t, "ent1", *sub.UpstreamEntitlementID)
		assert.Equal(t, &upstreamID, sub.UpstreamConsumerID)
		assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), sub.StartDate)
	})

	t.Run("missing pool product is fatal", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "entitlements/ent1.json", `{
			"id": "ent1",
			"quantity": 1,
			"startDate": "2025-01-01T00:00:00Z",
			"endDate": "2026-01-01T00:00:00Z",
			"pool": {"id": "pool1", "productId": "404"}
		}`)

		cache := newProductCache(dir+"/products", testLogger())

		_, err := readEntitlements(ctx, dir+"/entitlements", cache, &upstreamID)

		var formatErr *DataFormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Contains(t, formatErr.Msg, "404")
	})

	t.Run("missing provided product is fatal", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "products/100.json", `{"id":"100","name":"Product"}`)
		writeManifestFile(t, dir, "entitlements/ent1.json", `{
			"id": "ent1",
			"quantity": 1,
			"startDate": "2025-01-01T00:00:00Z",
			"endDate": "2026-01-01T00:00:00Z",
			"pool": {"id": "pool1", "productId": "100", "providedProducts": ["404"]}
		}`)

		cache := newProductCache(dir+"/products", testLogger())

		_, err := readEntitlements(ctx, dir+"/entitlements", cache, &upstreamID)

		var formatErr *DataFormatError
		require.ErrorAs(t, err, &formatErr)
	})

	t.Run("invalid start date", func(t *testing.T) {
		dir := t.TempDir()
		writeManifestFile(t, dir, "products/100.json", `{"id":"100","name":"Product"}`)
		writeManifestFile(t, dir, "entitlements/ent1.json", `{
			"id": "ent1",
			"quantity": 1,
			"startDate": "yesterday",
			"endDate": "2026-01-01T00:00:00Z",
			"pool": {"id": "pool1", "productId": "100"}
		}`)

		cache := newProductCache(dir+"/products", testLogger())

		_, err := readEntitlements(ctx, dir+"/entitlements", cache, &upstreamID)

		var formatErr *DataFormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Contains(t, formatErr.Msg, "start date")
	})
}
