package queryplan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bhanu1232/RepoRAG/internal/vectorstore"
)

func TestClassifyIntent(t *testing.T) {
	cases := map[string]Intent{
		"I got a stack trace when running this":    IntentDebugging,
		"what's the architecture overview here":    IntentArchitecture,
		"where's the readme for this module":        IntentDocumentation,
		"how do I implement a new handler":           IntentImplementation,
		"what color is the sky":                      IntentGeneral,
	}
	for query, want := range cases {
		assert.Equal(t, want, ClassifyIntent(query), "query: %s", query)
	}
}

type fixedEstimator float64

func (f fixedEstimator) Estimate(namespace string, filter vectorstore.Filter) float64 {
	return float64(f)
}

func TestBuildDropsOverlyRestrictiveFilter(t *testing.T) {
	plan := Build("show me the go implementation", "ns1", fixedEstimator(0.01))
	assert.Empty(t, plan.PreFilters)
}

func TestBuildDropsOverlyBroadFilter(t *testing.T) {
	plan := Build("show me the go implementation", "ns1", fixedEstimator(0.9))
	assert.Empty(t, plan.PreFilters)
}

func TestBuildKeepsFilterInSelectivityWindow(t *testing.T) {
	plan := Build("show me the go implementation", "ns1", fixedEstimator(0.3))
	assert.NotEmpty(t, plan.PreFilters)
	assert.Equal(t, "language", plan.PreFilters[0].Field)
	assert.Equal(t, "go", plan.PreFilters[0].Value)
}

func TestBuildExtractsRootDepthFilter(t *testing.T) {
	plan := Build("what's defined at the top-level of main", "ns1", fixedEstimator(0.3))
	found := false
	for _, f := range plan.PreFilters {
		if f.Field == "depth" {
			found = true
			assert.Equal(t, vectorstore.FilterLte, f.Op)
		}
	}
	assert.True(t, found)
}

func TestBuildExtractsPostFilters(t *testing.T) {
	plan := Build("find all classes and functions handling auth", "ns1", fixedEstimator(0.3))
	require_HasField(t, plan.PostFilters, "hasClassDef")
	require_HasField(t, plan.PostFilters, "hasFnDef")
}

func require_HasField(t *testing.T, filters []vectorstore.Filter, field string) {
	t.Helper()
	for _, f := range filters {
		if f.Field == field {
			return
		}
	}
	t.Fatalf("expected a filter on field %q, got %+v", field, filters)
}

func TestHistogramEstimatorEstimatesFromUpdatedCounts(t *testing.T) {
	h := NewHistogramEstimator()
	h.Update("ns1", []map[string]interface{}{
		{"language": "go"},
		{"language": "go"},
		{"language": "python"},
		{"language": "python"},
	})

	got := h.Estimate("ns1", vectorstore.Filter{Field: "language", Op: vectorstore.FilterEq, Value: "go"})
	assert.InDelta(t, 0.5, got, 0.001)
}

func TestHistogramEstimatorUnknownNamespaceIsZero(t *testing.T) {
	h := NewHistogramEstimator()
	got := h.Estimate("missing", vectorstore.Filter{Field: "language", Op: vectorstore.FilterEq, Value: "go"})
	assert.Equal(t, 0.0, got)
}
