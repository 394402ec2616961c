package reconciling

import (
	"fmt"
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Plan is the set of operations reconciliation decided on. Creates and merges
// are ordered by encounter order of the imported batch; deletes are ordered
// by upstream pool id then row id for determinism.
type Plan struct {
	Creates []models.Subscription
	Merges  []Merge
	Deletes []models.Subscription
}

// Merge pairs an existing row with the imported subscription whose
// descriptive fields overwrite it. The existing row id is preserved.
type Merge struct {
	Existing models.Subscription
	Imported models.Subscription
}

// workingSet tracks the not-yet-matched existing subscriptions across the
// match tiers. Each tier consumes from and shrinks the same set; matched
// entries are never revisited. The placeholder counter for blank entitlement
// ids is local to one call so concurrent reconciliations never share state.
type workingSet struct {
	byPool  map[string]map[string]models.Subscription
	counter int
}

func newWorkingSet(existing []models.Subscription) *workingSet {
	ws := &workingSet{byPool: make(map[string]map[string]models.Subscription)}
	for _, sub := range existing {
		poolID := *sub.UpstreamPoolID
		pool, ok := ws.byPool[poolID]
		if !ok {
			pool = make(map[string]models.Subscription)
			ws.byPool[poolID] = pool
		}

		key := ""
		if sub.UpstreamEntitlementID != nil {
			key = *sub.UpstreamEntitlementID
		}
		if key == "" {
			// Legacy rows predate entitlement ids; keep them distinguishable.
			ws.counter++
			key = fmt.Sprintf("placeholder-%d", ws.counter)
		}
		pool[key] = sub
	}
	return ws
}

func (ws *workingSet) take(poolID, key string) (models.Subscription, bool) {
	pool, ok := ws.byPool[poolID]
	if !ok {
		return models.Subscription{}, false
	}
	sub, ok := pool[key]
	if !ok {
		return models.Subscription{}, false
	}
	delete(pool, key)
	if len(pool) == 0 {
		delete(ws.byPool, poolID)
	}
	return sub, true
}

func (ws *workingSet) hasPool(poolID string) bool {
	return len(ws.byPool[poolID]) > 0
}

// remaining returns the unmatched subscriptions under one pool, ordered by
// row id so tier iteration is deterministic.
func (ws *workingSet) remaining(poolID string) []poolEntry {
	pool := ws.byPool[poolID]
	entries := make([]poolEntry, 0, len(pool))
	for key, sub := range pool {
		entries = append(entries, poolEntry{key: key, sub: sub})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].sub.ID < entries[j].sub.ID
	})
	return entries
}

// drain returns everything left in the set, ordered by pool id then row id.
func (ws *workingSet) drain() []models.Subscription {
	pools := make([]string, 0, len(ws.byPool))
	for poolID := range ws.byPool {
		pools = append(pools, poolID)
	}
	sort.Strings(pools)

	var out []models.Subscription
	for _, poolID := range pools {
		for _, entry := range ws.remaining(poolID) {
			out = append(out, entry.sub)
		}
	}
	return out
}

type poolEntry struct {
	key string
	sub models.Subscription
}

// BuildPlan reconciles the imported batch against the owner's existing
// subscriptions using a three tier best effort identity match. Existing rows
// without an upstream pool id were created locally and are never touched.
func BuildPlan(existing, imported []models.Subscription) Plan {
	var managed []models.Subscription
	for _, sub := range existing {
		if sub.HasUpstreamPool() {
			managed = append(managed, sub)
		}
	}

	ws := newWorkingSet(managed)
	plan := Plan{}

	// Tier 1: exact (pool id, entitlement id) match. A pool id with no
	// remaining entries at all is a straight create.
	var deferred []models.Subscription
	for _, imp := range imported {
		poolID := ""
		if imp.UpstreamPoolID != nil {
			poolID = *imp.UpstreamPoolID
		}

		if !ws.hasPool(poolID) {
			plan.Creates = append(plan.Creates, imp)
			continue
		}

		entID := ""
		if imp.UpstreamEntitlementID != nil {
			entID = *imp.UpstreamEntitlementID
		}
		if match, ok := ws.take(poolID, entID); ok {
			plan.Merges = append(plan.Merges, Merge{Existing: match, Imported: imp})
			continue
		}

		deferred = append(deferred, imp)
	}

	// Tier 2: quantity equality within the same pool. Candidates are walked
	// in row id order so the outcome does not depend on map iteration.
	var unresolved []models.Subscription
	for _, imp := range deferred {
		poolID := *imp.UpstreamPoolID

		matched := false
		for _, entry := range ws.remaining(poolID) {
			if entry.sub.Quantity == imp.Quantity {
				match, _ := ws.take(poolID, entry.key)
				plan.Merges = append(plan.Merges, Merge{Existing: match, Imported: imp})
				matched = true
				break
			}
		}
		if !matched {
			unresolved = append(unresolved, imp)
		}
	}

	// Tier 3: positional match by descending quantity within the same pool.
	byPool := make(map[string][]models.Subscription)
	var poolOrder []string
	for _, imp := range unresolved {
		poolID := *imp.UpstreamPoolID
		if _, seen := byPool[poolID]; !seen {
			poolOrder = append(poolOrder, poolID)
		}
		byPool[poolID] = append(byPool[poolID], imp)
	}

	for _, poolID := range poolOrder {
		imps := byPool[poolID]
		sortByQuantityDesc(imps)

		entries := ws.remaining(poolID)
		remainingSubs := make([]models.Subscription, len(entries))
		keys := make([]string, len(entries))
		for i, entry := range entries {
			remainingSubs[i] = entry.sub
			keys[i] = entry.key
		}
		order := make([]int, len(remainingSubs))
		for i := range order {
			order[i] = i
		}
		sortIndexByQuantityDesc(remainingSubs, order)

		for i, imp := range imps {
			if i < len(order) {
				match, _ := ws.take(poolID, keys[order[i]])
				plan.Merges = append(plan.Merges, Merge{Existing: match, Imported: imp})
			} else {
				plan.Creates = append(plan.Creates, imp)
			}
		}
	}

	// Cleanup: whatever is still unmatched no longer exists upstream.
	plan.Deletes = ws.drain()
	return plan
}

// sortByQuantityDesc is a stable insertion sort by descending quantity; ties
// keep their relative encounter order.
func sortByQuantityDesc(subs []models.Subscription) {
	for i := 1; i < len(subs); i++ {
		for j := i; j > 0 && subs[j].Quantity > subs[j-1].Quantity; j-- {
			subs[j], subs[j-1] = subs[j-1], subs[j]
		}
	}
}

func sortIndexByQuantityDesc(subs []models.Subscription, order []int) {
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && subs[order[j]].Quantity > subs[order[j-1]].Quantity; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
}

// ApplyMerge overwrites the existing row's descriptive fields with the
// imported values. The persisted identifier, owner and creation time survive;
// nothing flows the other direction.
func ApplyMerge(existing, imported models.Subscription) models.Subscription {
	merged := existing
	merged.ProductID = imported.ProductID
	merged.Quantity = imported.Quantity
	merged.StartDate = imported.StartDate
	merged.EndDate = imported.EndDate
	merged.ContractNumber = imported.ContractNumber
	merged.AccountNumber = imported.AccountNumber
	merged.OrderNumber = imported.OrderNumber
	merged.UpstreamPoolID = imported.UpstreamPoolID
	merged.UpstreamEntitlementID = imported.UpstreamEntitlementID
	merged.UpstreamConsumerID = imported.UpstreamConsumerID
	merged.DerivedProductID = imported.DerivedProductID
	merged.ProvidedProductIDs = imported.ProvidedProductIDs
	merged.Certificate = imported.Certificate
	return merged
}
