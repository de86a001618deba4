package queryplan

import (
	"fmt"
	"sync"

	"github.com/bhanu1232/RepoRAG/internal/vectorstore"
)

// HistogramEstimator is a per-namespace SelectivityEstimator backed by an
// offline value-count histogram, refreshed whenever the indexer finishes
// a pass over a namespace.
type HistogramEstimator struct {
	mu          sync.RWMutex
	totals      map[string]int
	valueCounts map[string]map[string]int // namespace -> "field:value" -> count
}

// NewHistogramEstimator creates an empty estimator; namespaces report 0
// selectivity (so every filter is dropped) until Update is called.
func NewHistogramEstimator() *HistogramEstimator {
	return &HistogramEstimator{
		totals:      make(map[string]int),
		valueCounts: make(map[string]map[string]int),
	}
}

// Update replaces the histogram for namespace from metadata snapshots
// (one map per indexed chunk).
func (h *HistogramEstimator) Update(namespace string, chunkMetadata []map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for _, meta := range chunkMetadata {
		for field, value := range meta {
			key := fmt.Sprintf("%s:%v", field, value)
			counts[key]++
		}
	}
	h.totals[namespace] = len(chunkMetadata)
	h.valueCounts[namespace] = counts
}

// Estimate implements queryplan.SelectivityEstimator. Range filters
// ($lte/$gte/$lt/$gt) cannot be looked up directly in an equality
// histogram, so they report a neutral 0.25 — inside the gate's keep
// window but away from either boundary.
func (h *HistogramEstimator) Estimate(namespace string, filter vectorstore.Filter) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := h.totals[namespace]
	if total == 0 {
		return 0
	}

	if filter.Op != vectorstore.FilterEq {
		return 0.25
	}

	key := fmt.Sprintf("%s:%v", filter.Field, filter.Value)
	count := h.valueCounts[namespace][key]
	return float64(count) / float64(total)
}
