package reconciling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func strptr(s string) *string { return &s }

func managedSub(id, poolID, entID string, quantity int64) models.Subscription {
	sub := models.Subscription{
		ID:             id,
		OwnerID:        "owner-1",
		ProductID:      "prod-1",
		Quantity:       quantity,
		StartDate:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		UpstreamPoolID: strptr(poolID),
	}
	if entID != "" {
		sub.UpstreamEntitlementID = strptr(entID)
	}
	return sub
}

func importedSub(poolID, entID string, quantity int64) models.Subscription {
	sub := models.Subscription{
		ProductID:      "prod-1",
		Quantity:       quantity,
		StartDate:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		UpstreamPoolID: strptr(poolID),
	}
	if entID != "" {
		sub.UpstreamEntitlementID = strptr(entID)
	}
	return sub
}

func TestBuildPlan_ExactMatch(t *testing.T) {
	t.Run("matching pool and entitlement merges", func(t *testing.T) {
		existing := []models.Subscription{managedSub("sub-1", "pool-1", "ent-1", 10)}
		imported := []models.Subscription{importedSub("pool-1", "ent-1", 25)}

		plan := BuildPlan(existing, imported)

		require.Len(t, plan.Merges, 1)
		assert.Equal(t, "sub-1", plan.Merges[0].Existing.ID)
		assert.Equal(t, int64(25), plan.Merges[0].Imported.Quantity)
		assert.Empty(t, plan.Creates)
		assert.Empty(t, plan.Deletes)
	})

	t.Run("unknown pool creates", func(t *testing.T) {
		existing := []models.Subscription{managedSub("sub-1", "pool-1", "ent-1", 10)}
		imported := []models.Subscription{importedSub("pool-2", "ent-2", 5)}

		plan := BuildPlan(existing, imported)

		require.Len(t, plan.Creates, 1)
		assert.Equal(t, "pool-2", *plan.Creates[0].UpstreamPoolID)
		// pool-1 no longer exists upstream
		require.Len(t, plan.Deletes, 1)
		assert.Equal(t, "sub-1", plan.Deletes[0].ID)
	})

	t.Run("locally created rows are never touched", func(t *testing.T) {
		local := models.Subscription{ID: "local-1", Quantity: 3}
		existing := []models.Subscription{local, managedSub("sub-1", "pool-1", "ent-1", 10)}
		imported := []models.Subscription{importedSub("pool-1", "ent-1", 10)}

		plan := BuildPlan(existing, imported)

		assert.Len(t, plan.Merges, 1)
		assert.Empty(t, plan.Deletes)
		assert.Empty(t, plan.Creates)
	})
}

func TestBuildPlan_QuantityFallback(t *testing.T) {
	t.Run("entitlement id changed but quantity matches", func(t *testing.T) {
		existing := []models.Subscription{
			managedSub("sub-1", "pool-1", "ent-old-a", 10),
			managedSub("sub-2", "pool-1", "ent-old-b", 20),
		}
		imported := []models.Subscription{
			importedSub("pool-1", "ent-new-a", 20),
			importedSub("pool-1", "ent-new-b", 10),
		}

		plan := BuildPlan(existing, imported)

		require.Len(t, plan.Merges, 2)
		merged := map[string]string{}
		for _, m := range plan.Merges {
			merged[m.Existing.ID] = *m.Imported.UpstreamEntitlementID
		}
		assert.Equal(t, "ent-new-b", merged["sub-1"])
		assert.Equal(t, "ent-new-a", merged["sub-2"])
		assert.Empty(t, plan.Creates)
		assert.Empty(t, plan.Deletes)
	})

	t.Run("quantity candidates walk in row id order", func(t *testing.T) {
		existing := []models.Subscription{
			managedSub("sub-b", "pool-1", "ent-old-b", 10),
			managedSub("sub-a", "pool-1", "ent-old-a", 10),
		}
		imported := []models.Subscription{importedSub("pool-1", "ent-new", 10)}

		plan := BuildPlan(existing, imported)

		require.Len(t, plan.Merges, 1)
		assert.Equal(t, "sub-a", plan.Merges[0].Existing.ID)
		require.Len(t, plan.Deletes, 1)
		assert.Equal(t, "sub-b", plan.Deletes[0].ID)
	})
}

func TestBuildPlan_PositionalFallback(t *testing.T) {
	t.Run("quantities changed, largest pairs with largest", func(t *testing.T) {
		existing := []models.Subscription{
			managedSub("sub-1", "pool-1", "ent-old-a", 100),
			managedSub("sub-2", "pool-1", "ent-old-b", 5),
		}
		imported := []models.Subscription{
			importedSub("pool-1", "ent-new-a", 7),
			importedSub("pool-1", "ent-new-b", 200),
		}

		plan := BuildPlan(existing, imported)

		require.Len(t, plan.Merges, 2)
		merged := map[string]int64{}
		for _, m := range plan.Merges {
			merged[m.Existing.ID] = m.Imported.Quantity
		}
		assert.Equal(t, int64(200), merged["sub-1"])
		assert.Equal(t, int64(7), merged["sub-2"])
	})

	t.Run("more imported than existing creates the overflow", func(t *testing.T) {
		existing := []models.Subscription{managedSub("sub-1", "pool-1", "ent-old", 100)}
		imported := []models.Subscription{
			importedSub("pool-1", "ent-new-a", 50),
			importedSub("pool-1", "ent-new-b", 75),
		}

		plan := BuildPlan(existing, imported)

		require.Len(t, plan.Merges, 1)
		assert.Equal(t, int64(75), plan.Merges[0].Imported.Quantity)
		require.Len(t, plan.Creates, 1)
		assert.Equal(t, int64(50), plan.Creates[0].Quantity)
		assert.Empty(t, plan.Deletes)
	})

	t.Run("leftover existing rows are deleted", func(t *testing.T) {
		existing := []models.Subscription{
			managedSub("sub-1", "pool-1", "ent-a", 10),
			managedSub("sub-2", "pool-1", "ent-b", 20),
			managedSub("sub-3", "pool-1", "ent-c", 30),
		}
		imported := []models.Subscription{importedSub("pool-1", "ent-a", 10)}

		plan := BuildPlan(existing, imported)

		require.Len(t, plan.Merges, 1)
		assert.Equal(t, "sub-1", plan.Merges[0].Existing.ID)
		require.Len(t, plan.Deletes, 2)
		assert.Equal(t, "sub-2", plan.Deletes[0].ID)
		assert.Equal(t, "sub-3", plan.Deletes[1].ID)
	})
}

func TestBuildPlan_BlankEntitlementIDs(t *testing.T) {
	// Legacy rows without entitlement ids must stay distinguishable instead of
	// collapsing onto one map key.
	existing := []models.Subscription{
		managedSub("sub-1", "pool-1", "", 10),
		managedSub("sub-2", "pool-1", "", 10),
	}
	imported := []models.Subscription{
		importedSub("pool-1", "ent-a", 10),
		importedSub("pool-1", "ent-b", 10),
	}

	plan := BuildPlan(existing, imported)

	assert.Len(t, plan.Merges, 2)
	assert.Empty(t, plan.Creates)
	assert.Empty(t, plan.Deletes)
}

func TestBuildPlan_EmptyImport(t *testing.T) {
	existing := []models.Subscription{
		managedSub("sub-1", "pool-1", "ent-a", 10),
		managedSub("sub-2", "pool-2", "ent-b", 20),
	}

	plan := BuildPlan(existing, nil)

	assert.Empty(t, plan.Creates)
	assert.Empty(t, plan.Merges)
	require.Len(t, plan.Deletes, 2)
	// deterministic order: pool id then row id
	assert.Equal(t, "sub-1", plan.Deletes[0].ID)
	assert.Equal(t, "sub-2", plan.Deletes[1].ID)
}

func TestApplyMerge(t *testing.T) {
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	existing := managedSub("sub-1", "pool-old", "ent-old", 10)
	existing.CreatedAt = created
	existing.ContractNumber = "old-contract"

	imported := importedSub("pool-new", "ent-new", 42)
	imported.ContractNumber = "new-contract"
	imported.ProvidedProductIDs = []string{"prov-1"}
	imported.Certificate = &models.SubscriptionCertificate{Key: "key", Cert: "cert"}

	merged := ApplyMerge(existing, imported)

	assert.Equal(t, "sub-1", merged.ID)
	assert.Equal(t, "owner-1", merged.OwnerID)
	assert.Equal(t, created, merged.CreatedAt)
	assert.Equal(t, int64(42), merged.Quantity)
	assert.Equal(t, "new-contract", merged.ContractNumber)
	assert.Equal(t, "pool-new", *merged.UpstreamPoolID)
	assert.Equal(t, "ent-new", *merged.UpstreamEntitlementID)
	assert.Equal(t, []string{"prov-1"}, merged.ProvidedProductIDs)
	require.NotNil(t, merged.Certificate)
	assert.Equal(t, "cert", merged.Certificate.Cert)
}
