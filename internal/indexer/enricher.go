package indexer

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/bhanu1232/RepoRAG/internal/core"
)

// declTables holds the per-language regex tables used to detect class
// definitions, function definitions, imports, and test markers, per
// generalizing the teacher's fnRegex/classRegex pairs in chunker.go into a
// single lookup shared by the enricher.
type declTables struct {
	classDef *regexp.Regexp
	fnDef    *regexp.Regexp
	imports  *regexp.Regexp
	tests    *regexp.Regexp
}

var enrichTables = map[string]declTables{
	"python": {
		classDef: regexp.MustCompile(`(?m)^\s*class\s+\w`),
		fnDef:    regexp.MustCompile(`(?m)^\s*def\s+\w`),
		imports:  regexp.MustCompile(`(?m)^\s*(import|from)\s`),
		tests:    regexp.MustCompile(`\bunittest\b|\bpytest\b`),
	},
	"javascript": {
		classDef: regexp.MustCompile(`(?m)^\s*class\s+\w`),
		fnDef:    regexp.MustCompile(`(?m)^\s*(function\s+\w|(const|let|var)\s+\w+\s*=\s*(\(.*\)\s*=>|function))`),
		imports:  regexp.MustCompile(`(?m)^\s*(import\s|require\()`),
		tests:    regexp.MustCompile(`\bdescribe\(|\bit\(|\btest\(|\bjest\b`),
	},
	"typescript": {
		classDef: regexp.MustCompile(`(?m)^\s*(export\s+)?class\s+\w`),
		fnDef:    regexp.MustCompile(`(?m)^\s*(export\s+)?(function\s+\w|(const|let|var)\s+\w+\s*=\s*(\(.*\)\s*=>|function))`),
		imports:  regexp.MustCompile(`(?m)^\s*import\s`),
		tests:    regexp.MustCompile(`\bdescribe\(|\bit\(|\btest\(|\bjest\b`),
	},
	"java": {
		classDef: regexp.MustCompile(`(?m)^\s*(public|private|protected)?\s*(static)?\s*(class|interface)\s+\w`),
		fnDef:    regexp.MustCompile(`(?m)^\s*(public|private|protected)[\w<>\[\]]*\s+\w+\s*\(`),
		imports:  regexp.MustCompile(`(?m)^\s*import\s`),
		tests:    regexp.MustCompile(`@Test\b|\bjunit\b`),
	},
	"go": {
		classDef: regexp.MustCompile(`(?m)^\s*type\s+\w+\s+(struct|interface)\b`),
		fnDef:    regexp.MustCompile(`(?m)^\s*func\s+`),
		imports:  regexp.MustCompile(`(?m)^\s*import\s|^\s*"[\w./-]+"\s*$`),
		tests:    regexp.MustCompile(`\bfunc\s+Test\w|\btesting\.T\b`),
	},
	"rust": {
		classDef: regexp.MustCompile(`(?m)^\s*(struct|trait|enum)\s+\w`),
		fnDef:    regexp.MustCompile(`(?m)^\s*fn\s+\w`),
		imports:  regexp.MustCompile(`(?m)^\s*use\s`),
		tests:    regexp.MustCompile(`#\[test\]|\bmod\s+tests\b`),
	},
	"cpp": {
		classDef: regexp.MustCompile(`(?m)^\s*class\s+\w|^\s*struct\s+\w`),
		fnDef:    regexp.MustCompile(`(?m)^\s*\w[\w\s\*:]*\(\w`),
		imports:  regexp.MustCompile(`(?m)^\s*#include\s`),
		tests:    regexp.MustCompile(`\bTEST\(|\bgtest\b|\bcatch2\b`),
	},
	"c": {
		classDef: regexp.MustCompile(`(?m)^\s*struct\s+\w`),
		fnDef:    regexp.MustCompile(`(?m)^\s*\w[\w\s\*]*\(\w`),
		imports:  regexp.MustCompile(`(?m)^\s*#include\s`),
		tests:    regexp.MustCompile(`\bassert\(|\bCU_ASSERT\b`),
	},
	"ruby": {
		classDef: regexp.MustCompile(`(?m)^\s*(class|module)\s+\w`),
		fnDef:    regexp.MustCompile(`(?m)^\s*def\s+\w`),
		imports:  regexp.MustCompile(`(?m)^\s*require\s`),
		tests:    regexp.MustCompile(`\bRSpec\b|\bdescribe\s+["']`),
	},
	"php": {
		classDef: regexp.MustCompile(`(?m)^\s*class\s+\w`),
		fnDef:    regexp.MustCompile(`(?m)^\s*function\s+\w`),
		imports:  regexp.MustCompile(`(?m)^\s*(use|require|include)\s`),
		tests:    regexp.MustCompile(`\bPHPUnit\b|extends\s+TestCase`),
	},
}

// branchLoopPattern and callPattern count control-flow and call-like
// tokens for the complexity proxy.
var branchLoopPattern = regexp.MustCompile(`\b(if|for|while|switch|case|catch)\b`)
var callPattern = regexp.MustCompile(`\w+\s*\(`)

// MetadataEnricher implements the word-count/size-bucket/boolean/complexity
// enrichment contract.
type MetadataEnricher struct{}

// NewMetadataEnricher builds a MetadataEnricher.
func NewMetadataEnricher() *MetadataEnricher { return &MetadataEnricher{} }

// Enrich returns chunk with its derived fields populated. It does not
// mutate the chunk it is given.
func (e *MetadataEnricher) Enrich(ctx context.Context, chunk core.Chunk) core.Chunk {
	chunk.WordCount = len(strings.Fields(chunk.Text))
	chunk.SizeCategory = sizeCategoryOf(chunk.WordCount)

	tables, ok := enrichTables[chunk.Language]
	if ok {
		chunk.HasClassDef = tables.classDef.MatchString(chunk.Text)
		chunk.HasFnDef = tables.fnDef.MatchString(chunk.Text)
		chunk.HasImports = tables.imports.MatchString(chunk.Text)
		chunk.HasTests = tables.tests.MatchString(chunk.Text)
	}

	chunk.Complexity = complexityOf(chunk.Text)
	return chunk
}

func sizeCategoryOf(wordCount int) core.SizeCategory {
	switch {
	case wordCount < 200:
		return core.SizeSmall
	case wordCount <= 800:
		return core.SizeMedium
	default:
		return core.SizeLarge
	}
}

// complexityOf computes a monotone, cheap proxy for cyclomatic complexity:
// clip(1 + floor(log2(1 + branches + loops + calls/4)), 1, 10). It is a
// ranking signal, not an exact metric.
func complexityOf(text string) int {
	branchesAndLoops := len(branchLoopPattern.FindAllStringIndex(text, -1))
	calls := len(callPattern.FindAllStringIndex(text, -1))

	score := 1 + int(math.Floor(math.Log2(1+float64(branchesAndLoops)+float64(calls)/4)))
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}
