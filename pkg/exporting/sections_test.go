package exporting

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestMetaSection(t *testing.T) {
	env := &Envelope{Meta: models.Meta{Version: "1.0", Created: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), PrincipalName: "admin"}}

	files, err := metaSection{}.Export(context.Background(), env)

	require.NoError(t, err)
	require.Contains(t, files, "meta.json")

	var meta models.Meta
	require.NoError(t, json.Unmarshal(files["meta.json"], &meta))
	assert.Equal(t, "admin", meta.PrincipalName)
}

func TestConsumerTypesSection(t *testing.T) {
	env := &Envelope{ConsumerTypes: []models.ConsumerType{
		{Label: "system"},
		{Label: "candlepin", Manifest: true},
	}}

	files, err := consumerTypesSection{}.Export(context.Background(), env)

	require.NoError(t, err)
	assert.Contains(t, files, "consumer_types/system.json")
	assert.Contains(t, files, "consumer_types/candlepin.json")
}

func TestEntitlementsSection(t *testing.T) {
	poolID := "pool-1"
	env := &Envelope{Subscriptions: []models.Subscription{{
		ID:             "sub-1",
		ProductID:      "100",
		Quantity:       25,
		StartDate:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ContractNumber: "CN-9",
		UpstreamPoolID: &poolID,
	}}}

	files, err := entitlementsSection{}.Export(context.Background(), env)

	require.NoError(t, err)
	require.Contains(t, files, "entitlements/sub-1.json")

	var wire entitlementWire
	require.NoError(t, json.Unmarshal(files["entitlements/sub-1.json"], &wire))
	assert.Equal(t, "sub-1", wire.ID)
	// the local row id doubles as the exported pool id
	assert.Equal(t, "sub-1", wire.Pool.ID)
	assert.Equal(t, "100", wire.Pool.ProductID)
	assert.Equal(t, "CN-9", wire.Pool.ContractNumber)
	assert.Equal(t, int64(25), wire.Quantity)
	assert.Equal(t, "2025-01-01T00:00:00Z", wire.StartDate)
}

func TestEntitlementCertsSection(t *testing.T) {
	env := &Envelope{Subscriptions: []models.Subscription{
		{ID: "sub-1", Certificate: &models.SubscriptionCertificate{
			Serial: models.CertificateSerial{ID: 12345},
			Cert:   "CERT",
			Key:    "KEY",
		}},
		{ID: "sub-2"},
	}}

	files, err := entitlementCertsSection{}.Export(context.Background(), env)

	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, []byte("CERTKEY"), files["entitlement_certificates/12345.pem"])
}

func TestProductsSection(t *testing.T) {
	env := &Envelope{
		Products: []models.Product{
			{ID: "100", Name: "Market"},
			{ID: "eng-prod", Name: "Engineering"},
		},
		ProductCerts: map[string]string{
			"100":      "MARKET PEM",
			"eng-prod": "SHOULD NOT APPEAR",
		},
	}

	files, err := productsSection{}.Export(context.Background(), env)

	require.NoError(t, err)
	assert.Contains(t, files, "products/100.json")
	assert.Contains(t, files, "products/eng-prod.json")
	// certificates are written for numeric market ids only
	assert.Equal(t, []byte("MARKET PEM"), files["products/100.pem"])
	assert.NotContains(t, files, "products/eng-prod.pem")
}

func TestUpstreamConsumerSection(t *testing.T) {
	t.Run("no identity", func(t *testing.T) {
		files, err := upstreamConsumerSection{}.Export(context.Background(), &Envelope{})

		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("identity present", func(t *testing.T) {
		env := &Envelope{UpstreamIdentity: &models.IdentityCertificate{
			Serial: models.CertificateSerial{ID: 777},
			Cert:   "CERT",
		}}

		files, err := upstreamConsumerSection{}.Export(context.Background(), env)

		require.NoError(t, err)
		assert.Contains(t, files, "upstream_consumer/777.json")
	})
}

func TestRulesSection(t *testing.T) {
	env := &Envelope{
		Rules:       models.RulesSource{Content: "// current rules"},
		LegacyRules: "// legacy rules",
	}

	files, err := rulesSection{}.Export(context.Background(), env)

	require.NoError(t, err)
	assert.Equal(t, []byte("// current rules"), files["rules2/rules.js"])
	assert.Equal(t, []byte("// legacy rules"), files["rules/default-rules.js"])
}

func TestDistributorVersionsSection(t *testing.T) {
	t.Run("omitted when empty", func(t *testing.T) {
		files, err := distributorVersionsSection{}.Export(context.Background(), &Envelope{})

		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("one file per version", func(t *testing.T) {
		env := &Envelope{DistributorVersions: []models.DistributorVersion{
			{Name: "sam-1.3", DisplayName: "SAM", Capabilities: []string{"cores"}},
		}}

		files, err := distributorVersionsSection{}.Export(context.Background(), env)

		require.NoError(t, err)
		require.Contains(t, files, "distributor_version/sam-1.3.json")

		var dv models.DistributorVersion
		require.NoError(t, json.Unmarshal(files["distributor_version/sam-1.3.json"], &dv))
		assert.Equal(t, []string{"cores"}, dv.Capabilities)
	})
}
