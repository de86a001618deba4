// Package queryplan turns a natural-language query into a retrieval plan:
// an intent classification, pre/post filters, and intent-weighted rerank
// weights. It generalizes the teacher's pattern-table intent parser (a
// table of phrase triggers matched in priority order) into the five-intent
// closed set the retriever consumes.
package queryplan

import (
	"regexp"
	"strings"

	"github.com/bhanu1232/RepoRAG/internal/vectorstore"
)

// Intent is one of the closed set of query intents.
type Intent string

const (
	IntentImplementation Intent = "implementation"
	IntentDebugging      Intent = "debugging"
	IntentArchitecture   Intent = "architecture"
	IntentDocumentation  Intent = "documentation"
	IntentGeneral        Intent = "general"
)

// pattern is one phrase-trigger rule: if its regex matches the query, the
// query is classified as Intent. Rules are tried in order; the first
// match wins.
type pattern struct {
	intent Intent
	regex  *regexp.Regexp
}

var intentPatterns = []pattern{
	{IntentDebugging, regexp.MustCompile(`(?i)\b(debug|error|exception|stack trace|crash|fails?|bug)\b`)},
	{IntentArchitecture, regexp.MustCompile(`(?i)\b(architecture|design|flow|diagram|structure|overview)\b`)},
	{IntentDocumentation, regexp.MustCompile(`(?i)\b(readme|docs?|documentation|guide|usage)\b`)},
	{IntentImplementation, regexp.MustCompile(`(?i)\b(implement|how does .* work|where is .* defined|logic for)\b`)},
}

// ClassifyIntent applies the phrase-trigger table, defaulting to general
// when nothing matches.
func ClassifyIntent(query string) Intent {
	for _, p := range intentPatterns {
		if p.regex.MatchString(query) {
			return p.intent
		}
	}
	return IntentGeneral
}

var languageTokens = regexp.MustCompile(`(?i)\b(python|javascript|js|typescript|ts|java|golang|go|rust|c\+\+|cpp|c|ruby|php)\b`)

var languageAliases = map[string]string{
	"js":     "javascript",
	"ts":     "typescript",
	"golang": "go",
	"c++":    "cpp",
}

var categoryTokens = regexp.MustCompile(`(?i)\b(test|spec|config|doc|readme|build)\b`)

var categoryAliases = map[string]string{
	"spec":   "test",
	"readme": "docs",
	"doc":    "docs",
}

var rootTokens = regexp.MustCompile(`(?i)\b(main|root|top-level|toplevel)\b`)
var classTokens = regexp.MustCompile(`(?i)\bclasses?\b`)
var fnTokens = regexp.MustCompile(`(?i)\b(function|functions|method|methods)\b`)

// Plan is the output the retriever consumes: an intent, pre/post filters,
// and intent-derived rerank weights.
type Plan struct {
	Intent        Intent
	PreFilters    []vectorstore.Filter
	PostFilters   []vectorstore.Filter
	RerankWeights RerankWeights
}

// RerankWeights are the fractional boosts the retriever applies to
// candidates matching intent-specific conditions.
type RerankWeights struct {
	ImplementationCodeFnBoost float64
	ArchitectureShallowBoost  float64
	DebuggingCodeOrTestBoost  float64
}

// DefaultRerankWeights matches the weights named in §4.9.
func DefaultRerankWeights() RerankWeights {
	return RerankWeights{
		ImplementationCodeFnBoost: 0.25,
		ArchitectureShallowBoost:  0.20,
		DebuggingCodeOrTestBoost:  0.15,
	}
}

// SelectivityEstimator estimates what fraction of a namespace's corpus
// satisfies a filter, so the gate can drop filters that are too
// restrictive or provide no benefit. Implementations may use an offline
// per-namespace histogram or a sampling probe.
type SelectivityEstimator interface {
	Estimate(namespace string, filter vectorstore.Filter) float64
}

const (
	minSelectivity = 0.10
	maxSelectivity = 0.50
)

// Build constructs a Plan for query against namespace, applying the
// selectivity gate to every candidate pre-filter.
func Build(query, namespace string, estimator SelectivityEstimator) Plan {
	intent := ClassifyIntent(query)

	candidates := extractPreFilters(query)
	var gated []vectorstore.Filter
	for _, f := range candidates {
		selectivity := estimator.Estimate(namespace, f)
		if selectivity < minSelectivity || selectivity > maxSelectivity {
			continue
		}
		gated = append(gated, f)
	}

	return Plan{
		Intent:        intent,
		PreFilters:    gated,
		PostFilters:   extractPostFilters(query),
		RerankWeights: DefaultRerankWeights(),
	}
}

func extractPreFilters(query string) []vectorstore.Filter {
	var filters []vectorstore.Filter

	if m := languageTokens.FindString(query); m != "" {
		lang := strings.ToLower(m)
		if alias, ok := languageAliases[lang]; ok {
			lang = alias
		}
		filters = append(filters, vectorstore.Filter{Field: "language", Op: vectorstore.FilterEq, Value: lang})
	}

	if m := categoryTokens.FindString(query); m != "" {
		cat := strings.ToLower(m)
		if alias, ok := categoryAliases[cat]; ok {
			cat = alias
		}
		filters = append(filters, vectorstore.Filter{Field: "category", Op: vectorstore.FilterEq, Value: cat})
	}

	if rootTokens.MatchString(query) {
		filters = append(filters, vectorstore.Filter{Field: "depth", Op: vectorstore.FilterLte, Value: 2})
	}

	return filters
}

func extractPostFilters(query string) []vectorstore.Filter {
	var filters []vectorstore.Filter
	if classTokens.MatchString(query) {
		filters = append(filters, vectorstore.Filter{Field: "hasClassDef", Op: vectorstore.FilterEq, Value: true})
	}
	if fnTokens.MatchString(query) {
		filters = append(filters, vectorstore.Filter{Field: "hasFnDef", Op: vectorstore.FilterEq, Value: true})
	}
	return filters
}
