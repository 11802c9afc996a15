package aggregator

import (
	"parts-aggregator/internal/models"
)

// Reconcile collapses offers into one entry per physical part, keyed by
// CanonicalItem.DedupKey. A later offer replaces the kept one when it has more
// stock, or equal stock at a lower cost. Output keeps first-seen key order.
func Reconcile(items []models.CanonicalItem) []models.CanonicalItem {
	index := make(map[string]int, len(items))
	result := make([]models.CanonicalItem, 0, len(items))

	for _, candidate := range items {
		key := candidate.DedupKey()
		pos, seen := index[key]
		if !seen {
			index[key] = len(result)
			result = append(result, candidate)
			continue
		}
		if preferred(candidate, result[pos]) {
			result[pos] = candidate
		}
	}

	return result
}

func preferred(candidate, kept models.CanonicalItem) bool {
	if candidate.StockQuantity != kept.StockQuantity {
		return candidate.StockQuantity > kept.StockQuantity
	}
	return candidate.UnitCost.LessThan(kept.UnitCost)
}
