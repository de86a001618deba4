// Package retrieval is the hybrid retriever and answerer: it fuses dense
// and sparse candidate sets, reranks by query intent, assembles a bounded
// context window, and calls an llm.Client for a grounded, cited answer.
// It generalizes the teacher's sqlite hybrid-search RRF fusion into a
// standalone stage that works against any vectorstore.VectorStore.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bhanu1232/RepoRAG/internal/bm25"
	"github.com/bhanu1232/RepoRAG/internal/core"
	"github.com/bhanu1232/RepoRAG/internal/embedding"
	"github.com/bhanu1232/RepoRAG/internal/llm"
	"github.com/bhanu1232/RepoRAG/internal/observability"
	"github.com/bhanu1232/RepoRAG/internal/queryplan"
	"github.com/bhanu1232/RepoRAG/internal/vectorstore"
)

const (
	topKDense  = 40
	topKSparse = 40

	// rrfK is the rank-smoothing constant in the reciprocal-rank-fusion
	// formula: 1 / (k + rank).
	rrfK = 60.0

	denseWeight  = 1.0
	sparseWeight = 0.5

	// recallFallbackMin is the floor below which a post-filtered result
	// set is considered too thin, triggering a retry without filters.
	recallFallbackMin = 5

	contextTopN     = 10
	contextByteBudget = 8000 * bytesPerToken

	// bytesPerToken approximates tokens from UTF-8 byte length, matching
	// the ~4 bytes/token ratio the chunker's byte budgets already assume.
	bytesPerToken = 4

	answerTemperature = 0.3
	answerMaxTokens   = 1024

	systemPrompt = "You are a code assistant. Answer only from the supplied context blocks. " +
		"Cite every claim with its [S_n] marker. If the context does not contain the answer, say so. Never invent code or behavior that is not shown."
)

// Confidence buckets the fused top-5 score into a caller-facing label.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Citation identifies one source location backing the answer.
type Citation struct {
	Path      string
	StartLine int
	EndLine   int
}

// Answer is the result of a query against one namespace.
type Answer struct {
	Text       string
	Confidence Confidence
	Citations  []Citation
}

const noInformationText = "No relevant information found."

// candidate is a fused, not-yet-reranked result carrying both the RRF
// score and the underlying chunk metadata needed for context assembly.
type candidate struct {
	id       string
	rrf      float64
	metadata map[string]interface{}
}

// BM25Source supplies a namespace's current corpus and document count so
// the retriever can lazily build or refresh a bm25.Index per namespace.
type BM25Source interface {
	Documents(ctx context.Context, namespace string) ([]bm25.Document, error)
	DocumentCount(ctx context.Context, namespace string) (int, error)
}

// Retriever is the hybrid retriever and answerer.
type Retriever struct {
	store     vectorstore.VectorStore
	embedder  embedding.Embedder
	estimator queryplan.SelectivityEstimator
	bm25Src   BM25Source
	llmClient llm.Client
	logger    *observability.Logger

	sparse *sparseIndexCache
}

// New builds a Retriever.
func New(store vectorstore.VectorStore, embedder embedding.Embedder, estimator queryplan.SelectivityEstimator, bm25Src BM25Source, llmClient llm.Client, logger *observability.Logger) *Retriever {
	return &Retriever{
		store:     store,
		embedder:  embedder,
		estimator: estimator,
		bm25Src:   bm25Src,
		llmClient: llmClient,
		logger:    logger,
		sparse:    newSparseIndexCache(),
	}
}

// Answer plans, retrieves, fuses, reranks, assembles context, and
// generates a grounded answer for query within namespace.
func (r *Retriever) Answer(ctx context.Context, namespace, query string) (Answer, error) {
	plan := queryplan.Build(query, namespace, r.estimator)

	fused, err := r.fuse(ctx, namespace, query, plan.PreFilters)
	if err != nil {
		return Answer{}, err
	}

	filtered := applyPostFilters(fused, plan.PostFilters)
	if len(filtered) < recallFallbackMin {
		if len(plan.PreFilters) > 0 {
			fused, err = r.fuse(ctx, namespace, query, nil)
			if err != nil {
				return Answer{}, err
			}
		}
		filtered = fused
	}

	ranked := rerank(filtered, plan)

	if len(ranked) == 0 {
		return Answer{Text: noInformationText, Confidence: ConfidenceNone}, nil
	}

	confidence := confidenceOf(ranked)
	blocks, citations := assembleContext(ranked)

	resp, err := r.llmClient.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        buildUserPrompt(query, blocks),
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		return Answer{}, err
	}

	if r.logger != nil {
		r.logger.LogVectorSearch(ctx, "hybrid", len(ranked), 0)
	}

	return Answer{Text: resp.Text, Confidence: confidence, Citations: citations}, nil
}

// fuse runs dense and sparse retrieval concurrently against the same
// query and combines them with reciprocal rank fusion.
func (r *Retriever) fuse(ctx context.Context, namespace, query string, preFilters []vectorstore.Filter) ([]candidate, error) {
	type denseResult struct {
		matches []vectorstore.Match
		err     error
	}
	type sparseResult struct {
		results []bm25.Result
		err     error
	}

	denseCh := make(chan denseResult, 1)
	sparseCh := make(chan sparseResult, 1)

	go func() {
		vec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			denseCh <- denseResult{err: err}
			return
		}
		matches, err := r.store.Query(ctx, namespace, vec.Vector, topKDense, preFilters)
		denseCh <- denseResult{matches: matches, err: err}
	}()

	go func() {
		idx, err := r.sparseIndexFor(ctx, namespace)
		if err != nil {
			sparseCh <- sparseResult{err: err}
			return
		}
		sparseCh <- sparseResult{results: idx.Search(query, topKSparse)}
	}()

	dense := <-denseCh
	if dense.err != nil {
		return nil, dense.err
	}
	sparse := <-sparseCh
	if sparse.err != nil {
		return nil, sparse.err
	}

	return reciprocalRankFusion(dense.matches, sparse.results), nil
}

func (r *Retriever) sparseIndexFor(ctx context.Context, namespace string) (*bm25.Index, error) {
	idx := r.sparse.get(namespace)
	count, err := r.bm25Src.DocumentCount(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if idx == nil || idx.ShouldRebuild(count) {
		docs, err := r.bm25Src.Documents(ctx, namespace)
		if err != nil {
			return nil, err
		}
		idx = bm25.NewIndex()
		idx.Build(ctx, docs)
		r.sparse.put(namespace, idx)
	}
	return idx, nil
}

// reciprocalRankFusion combines dense and sparse result lists by
// score_rrf(id) = sum(weight_list / (k + rank_list(id))).
func reciprocalRankFusion(dense []vectorstore.Match, sparse []bm25.Result) []candidate {
	scores := make(map[string]float64)
	meta := make(map[string]map[string]interface{})

	for rank, m := range dense {
		scores[m.ID] += denseWeight / (rrfK + float64(rank+1))
		meta[m.ID] = m.Metadata
	}
	for rank, s := range sparse {
		scores[s.ID] += sparseWeight / (rrfK + float64(rank+1))
		if _, ok := meta[s.ID]; !ok {
			meta[s.ID] = nil
		}
	}

	out := make([]candidate, 0, len(scores))
	for id, score := range scores {
		out = append(out, candidate{id: id, rrf: score, metadata: meta[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rrf > out[j].rrf })
	return out
}

func applyPostFilters(candidates []candidate, filters []vectorstore.Filter) []candidate {
	if len(filters) == 0 {
		return candidates
	}
	out := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if matchesAll(c.metadata, filters) {
			out = append(out, c)
		}
	}
	return out
}

func matchesAll(metadata map[string]interface{}, filters []vectorstore.Filter) bool {
	for _, f := range filters {
		v, ok := metadata[f.Field]
		if !ok || !matchesFilter(v, f) {
			return false
		}
	}
	return true
}

// matchesFilter applies one filter to a fused candidate's metadata. The range
// operators use the same numeric coercion as vectorstore/memory.go; $eq and
// $in compare the %v string forms of both sides, whereas memory.go compares
// the raw values with ==.
func matchesFilter(v interface{}, f vectorstore.Filter) bool {
	switch f.Op {
	case vectorstore.FilterEq:
		return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", f.Value)
	case vectorstore.FilterIn:
		for _, want := range f.Values {
			if fmt.Sprintf("%v", v) == fmt.Sprintf("%v", want) {
				return true
			}
		}
		return false
	case vectorstore.FilterLte, vectorstore.FilterGte, vectorstore.FilterLt, vectorstore.FilterGt:
		a, aok := toFloat(v)
		b, bok := toFloat(f.Value)
		if !aok || !bok {
			return false
		}
		switch f.Op {
		case vectorstore.FilterLte:
			return a <= b
		case vectorstore.FilterGte:
			return a >= b
		case vectorstore.FilterLt:
			return a < b
		case vectorstore.FilterGt:
			return a > b
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// rerank applies the intent-weighted boosts to the fused RRF scores and
// re-sorts descending.
func rerank(candidates []candidate, plan queryplan.Plan) []candidate {
	out := make([]candidate, len(candidates))
	copy(out, candidates)

	for i := range out {
		boost := 0.0
		switch plan.Intent {
		case queryplan.IntentImplementation:
			if category(out[i].metadata) == string(core.CategoryCode) && boolField(out[i].metadata, "hasFnDef") {
				boost = plan.RerankWeights.ImplementationCodeFnBoost
			}
		case queryplan.IntentArchitecture:
			if depthField(out[i].metadata) <= 2 {
				boost = plan.RerankWeights.ArchitectureShallowBoost
			}
		case queryplan.IntentDebugging:
			cat := category(out[i].metadata)
			if cat == string(core.CategoryCode) || cat == string(core.CategoryTest) {
				boost = plan.RerankWeights.DebuggingCodeOrTestBoost
			}
		}
		out[i].rrf *= 1 + boost
	}

	sort.Slice(out, func(i, j int) bool { return out[i].rrf > out[j].rrf })
	return out
}

func category(metadata map[string]interface{}) string {
	v, _ := metadata["category"].(string)
	return v
}

func boolField(metadata map[string]interface{}, field string) bool {
	v, _ := metadata[field].(bool)
	return v
}

func depthField(metadata map[string]interface{}) int {
	switch v := metadata["depth"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// maxRRFScore is the highest score_rrf an id can reach: rank 1 in both
// the dense and sparse lists. Used to normalize the mean top-5 score
// into [0,1] before bucketing, since raw RRF scores cluster near zero.
const maxRRFScore = (denseWeight + sparseWeight) / (rrfK + 1)

// confidenceOf buckets the mean of the fused top-5 scores, normalized
// against the maximum achievable RRF score.
func confidenceOf(ranked []candidate) Confidence {
	n := len(ranked)
	if n > 5 {
		n = 5
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += ranked[i].rrf
	}
	mean := sum / float64(n) / maxRRFScore
	switch {
	case mean >= 0.7:
		return ConfidenceHigh
	case mean >= 0.4:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// assembleContext takes the top N_ctx candidates, bounded by the byte
// budget, and renders each as a "[S_i] path (Lstart-Lend): text" block.
// Citations are deduped by (path, startLine, endLine).
func assembleContext(ranked []candidate) ([]string, []Citation) {
	var blocks []string
	var citations []Citation
	seen := make(map[string]bool)

	used := 0
	n := 0
	for _, c := range ranked {
		if n >= contextTopN {
			break
		}
		path, _ := c.metadata["path"].(string)
		text, _ := c.metadata["text"].(string)
		start := depthFieldFrom(c.metadata, "startLine")
		end := depthFieldFrom(c.metadata, "endLine")
		if path == "" || text == "" {
			continue
		}

		block := fmt.Sprintf("[S_%d] %s (L%d-%d): %s", n+1, path, start, end, text)
		if used+len(block) > contextByteBudget {
			break
		}
		used += len(block)
		blocks = append(blocks, block)
		n++

		key := fmt.Sprintf("%s:%d:%d", path, start, end)
		if !seen[key] {
			seen[key] = true
			citations = append(citations, Citation{Path: path, StartLine: start, EndLine: end})
		}
	}
	return blocks, citations
}

func depthFieldFrom(metadata map[string]interface{}, field string) int {
	switch v := metadata[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func buildUserPrompt(query string, blocks []string) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nContext:\n")
	for _, block := range blocks {
		b.WriteString(block)
		b.WriteString("\n")
	}
	return b.String()
}
