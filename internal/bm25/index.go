// Package bm25 maintains a namespace-scoped, in-memory inverted index and
// scores queries against it with the classical BM25 formula, generalizing
// the teacher's MemoryStore.bm25Score into a standalone sparse-retrieval
// component usable independently of the vector store.
package bm25

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// k1 and b are pinned BM25 parameters; the source this system is modeled
// on never fixes sparse-search parameters, so these are a specified
// default rather than a measured constant.
const (
	k1 = 1.2
	b  = 0.75

	// driftThreshold is the fraction of document-count change that
	// triggers an index rebuild on the next query.
	driftThreshold = 0.05
)

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// Document is one corpus entry: an ID and the text it was built from.
type Document struct {
	ID   string
	Text string
}

// Result is a single scored document.
type Result struct {
	ID    string
	Score float64
}

// posting is a per-term list of (docID, termFrequency) pairs.
type posting struct {
	docID string
	tf    int
}

// Index is a namespace-scoped BM25 inverted index. Safe for concurrent
// use: reads take a shared lock, rebuilds take a write lock.
type Index struct {
	mu sync.RWMutex

	postings   map[string][]posting // term -> postings
	docLength  map[string]int       // docID -> token count
	totalDocs  int
	totalLen   int
	builtAtLen int // totalDocs at last rebuild, for drift detection
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{
		postings:  make(map[string][]posting),
		docLength: make(map[string]int),
	}
}

// Build replaces the index contents with docs. Call this lazily on first
// query for a namespace, and again whenever ShouldRebuild reports drift.
func (idx *Index) Build(ctx context.Context, docs []Document) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.postings = make(map[string][]posting)
	idx.docLength = make(map[string]int)
	idx.totalLen = 0

	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		terms := tokenize(doc.Text)
		idx.docLength[doc.ID] = len(terms)
		idx.totalLen += len(terms)

		counts := make(map[string]int, len(terms))
		for _, term := range terms {
			counts[term]++
		}
		for term, tf := range counts {
			idx.postings[term] = append(idx.postings[term], posting{docID: doc.ID, tf: tf})
		}
	}

	idx.totalDocs = len(docs)
	idx.builtAtLen = idx.totalDocs
}

// ShouldRebuild reports whether the corpus has drifted by more than
// driftThreshold document-count since the index was last built.
func (idx *Index) ShouldRebuild(currentDocCount int) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.builtAtLen == 0 {
		return currentDocCount > 0
	}
	delta := math.Abs(float64(currentDocCount-idx.builtAtLen)) / float64(idx.builtAtLen)
	return delta > driftThreshold
}

// Search scores query against the index and returns the topK highest
// scoring documents, descending.
func (idx *Index) Search(query string, topK int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.totalDocs == 0 {
		return nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	avgDocLen := float64(idx.totalLen) / float64(idx.totalDocs)
	scores := make(map[string]float64)

	for _, term := range dedupe(terms) {
		postings := idx.postings[term]
		if len(postings) == 0 {
			continue
		}
		idf := math.Log(1 + (float64(idx.totalDocs)-float64(len(postings))+0.5)/(float64(len(postings))+0.5))

		for _, p := range postings {
			docLen := float64(idx.docLength[p.docID])
			tf := float64(p.tf)
			norm := tf * (k1 + 1)
			denom := tf + k1*(1-b+b*(docLen/avgDocLen))
			scores[p.docID] += idf * (norm / denom)
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		if score > 0 {
			results = append(results, Result{ID: id, Score: score})
		}
	}

	sortResultsDesc(results)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func dedupe(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func sortResultsDesc(results []Result) {
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}
