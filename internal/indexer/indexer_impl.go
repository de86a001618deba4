package indexer

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bhanu1232/RepoRAG/internal/bm25"
	"github.com/bhanu1232/RepoRAG/internal/core"
	"github.com/bhanu1232/RepoRAG/internal/embedding"
	"github.com/bhanu1232/RepoRAG/internal/fetcher"
	"github.com/bhanu1232/RepoRAG/internal/repository"
	"github.com/bhanu1232/RepoRAG/internal/vectorstore"
)

// Micro-batch size is adaptive: it starts at the floor and doubles after
// growAfterClean consecutive clean batches, capped at maxBatchSize; any
// batch with a failure resets it straight back to the floor.
const (
	minBatchSize   = 1
	maxBatchSize   = 32
	growAfterClean = 3
)

// concurrency bounds the number of in-flight embed+upsert batches.
const concurrency = 4

// maxConsecutiveFailures aborts the job if this many chunks in a row
// fail to embed or upsert, treating it as a systemic rather than
// transient failure.
const maxConsecutiveFailures = 50

// upsertMaxRetries, upsertBackoffBase, and upsertBackoffCap bound the
// exponential-backoff-with-full-jitter retry applied to a failed upsert,
// mirroring the embedder's own retry policy so embed and upsert share one
// transient-failure-then-skip-and-count contract.
const (
	upsertMaxRetries  = 5
	upsertBackoffBase = 500 * time.Millisecond
	upsertBackoffCap  = 15 * time.Second
)

// CorpusSink receives the text of every chunk an indexing pass
// successfully upserts, so the sparse retriever can rebuild its BM25
// index without querying the vector backend for full documents.
type CorpusSink interface {
	Put(namespace string, docs []bm25.Document)
}

// SelectivityUpdater refreshes a namespace's pre-filter selectivity
// histogram (queryplan.HistogramEstimator implements this) so the query
// planner's selectivity gate has real counts to gate on.
type SelectivityUpdater interface {
	Update(namespace string, chunkMetadata []map[string]interface{})
}

// PipelineIndexer wires Fetcher -> Walker -> Chunker -> Enricher ->
// Embedder -> VectorStore into one ingestion pass.
type PipelineIndexer struct {
	fetcher     fetcher.Fetcher
	walker      Walker
	chunker     Chunker
	enricher    Enricher
	embedder    embedding.Embedder
	store       vectorstore.VectorStore
	registry    *repository.Registry
	corpus      CorpusSink
	selectivity SelectivityUpdater
	upsertRetry retryBudget
}

// retryBudget bounds the exponential-backoff-with-full-jitter retry applied
// to a failed upsert. Exposed as a field (rather than the package
// constants directly) so tests can shrink it instead of waiting out real
// backoff delays.
type retryBudget struct {
	maxRetries int
	base       time.Duration
	cap        time.Duration
}

var defaultUpsertRetryBudget = retryBudget{
	maxRetries: upsertMaxRetries,
	base:       upsertBackoffBase,
	cap:        upsertBackoffCap,
}

// NewPipelineIndexer builds a PipelineIndexer from its stage components.
// corpus may be nil, in which case sparse retrieval sees an empty corpus.
func NewPipelineIndexer(
	f fetcher.Fetcher,
	w Walker,
	c Chunker,
	e Enricher,
	embedder embedding.Embedder,
	store vectorstore.VectorStore,
	registry *repository.Registry,
	corpus CorpusSink,
) *PipelineIndexer {
	return &PipelineIndexer{
		fetcher:     f,
		walker:      w,
		chunker:     c,
		enricher:    e,
		embedder:    embedder,
		store:       store,
		registry:    registry,
		corpus:      corpus,
		upsertRetry: defaultUpsertRetryBudget,
	}
}

// WithSelectivityEstimator attaches a SelectivityUpdater whose histogram
// is refreshed with this namespace's chunk metadata after every
// successful ingest. Returns p for chaining at construction time.
func (p *PipelineIndexer) WithSelectivityEstimator(u SelectivityUpdater) *PipelineIndexer {
	p.selectivity = u
	return p
}

// WithUpsertRetryBudget overrides the upsert retry policy. Tests use this
// to shrink the backoff window instead of waiting out real delays.
func (p *PipelineIndexer) WithUpsertRetryBudget(maxRetries int, base, cap time.Duration) *PipelineIndexer {
	p.upsertRetry = retryBudget{maxRetries: maxRetries, base: base, cap: cap}
	return p
}

// Index implements Indexer: clone, walk+classify, chunk, enrich, embed in
// bounded-concurrency micro-batches, and upsert. onProgress is called
// after every stage transition and every completed batch; may be nil.
func (p *PipelineIndexer) Index(ctx context.Context, req Request, onProgress func(Progress)) (Result, error) {
	report := func(prog Progress) {
		if onProgress != nil {
			onProgress(prog)
		}
	}

	repoID := repository.DeriveID(req.RepoURL)
	namespace := repoID

	snapshot, err := p.fetcher.Fetch(ctx, req.RepoURL, req.Revision)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = snapshot.Close() }()

	report(Progress{JobID: repoID, RepoURL: req.RepoURL, Phase: PhaseWalking})

	ignorePatterns := req.IgnorePatterns
	if gitignore, gerr := LoadGitignore(filepath.Join(snapshot.Root, ".gitignore"), snapshot.Root); gerr == nil {
		ignorePatterns = append(append([]string{}, ignorePatterns...), gitignore...)
	}

	var chunks []core.Chunk
	filesWalked := 0
	err = p.walker.Walk(ctx, snapshot.Root, ignorePatterns, func(file core.FileRecord) error {
		filesWalked++
		fileChunks, err := p.chunker.Chunk(ctx, repoID, file)
		if err != nil {
			return err
		}
		for _, c := range fileChunks {
			chunks = append(chunks, p.enricher.Enrich(ctx, c))
		}
		return nil
	})
	if err != nil {
		return Result{}, core.NewError(core.ErrKindIndex, "walk failed", err)
	}

	report(Progress{
		JobID:         repoID,
		RepoURL:       req.RepoURL,
		Phase:         PhaseChunking,
		FilesWalked:   filesWalked,
		ChunksCreated: len(chunks),
	})

	upserted, failed, metadata, err := p.embedAndUpsert(ctx, namespace, chunks, func(done, failed int) {
		report(Progress{
			JobID:          repoID,
			RepoURL:        req.RepoURL,
			Phase:          PhaseEmbedding,
			FilesWalked:    filesWalked,
			ChunksCreated:  len(chunks),
			ChunksUpserted: done,
			ChunksFailed:   failed,
		})
	})
	if err != nil {
		return Result{}, err
	}

	p.registry.Upsert(req.RepoURL, snapshot.Revision, filesWalked, upserted, time.Now())
	if p.selectivity != nil {
		p.selectivity.Update(namespace, metadata)
	}

	report(Progress{
		JobID:          repoID,
		RepoURL:        req.RepoURL,
		Phase:          PhaseDone,
		FilesWalked:    filesWalked,
		ChunksCreated:  len(chunks),
		ChunksUpserted: upserted,
		ChunksFailed:   failed,
	})

	return Result{RepoID: repoID, Namespace: namespace, FileCount: filesWalked, ChunkCount: upserted}, nil
}

// embedAndUpsert processes chunks in waves of up to concurrency
// micro-batches, sized adaptively (see minBatchSize/maxBatchSize above).
// A chunk that fails to embed or upsert is skipped and counted; the job
// aborts once maxConsecutiveFailures accumulate without an intervening
// success. Between waves, a memory-release hint is dispatched so the
// process can hand unused heap back to the OS without blocking the next
// wave on a stop-the-world collection.
func (p *PipelineIndexer) embedAndUpsert(ctx context.Context, namespace string, chunks []core.Chunk, onBatch func(done, failed int)) (int, int, []map[string]interface{}, error) {
	if len(chunks) == 0 {
		return 0, 0, nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var upserted, failed, consecutiveFailures, cleanStreak int
	currentBatchSize := minBatchSize
	metadata := make([]map[string]interface{}, 0, len(chunks))
	var firstErr error

	idx := 0
	for idx < len(chunks) {
		if ctx.Err() != nil {
			break
		}

		mu.Lock()
		bs := currentBatchSize
		mu.Unlock()

		var wave [][]core.Chunk
		for len(wave) < concurrency && idx < len(chunks) {
			end := idx + bs
			if end > len(chunks) {
				end = len(chunks)
			}
			wave = append(wave, chunks[idx:end])
			idx = end
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, batch := range wave {
			batch := batch
			g.Go(func() error {
				done, batchFailed, batchMeta, err := p.processBatch(gctx, namespace, batch)

				mu.Lock()
				defer mu.Unlock()
				upserted += done
				failed += batchFailed
				metadata = append(metadata, batchMeta...)
				if batchFailed == 0 {
					consecutiveFailures = 0
					cleanStreak++
					if cleanStreak >= growAfterClean && currentBatchSize < maxBatchSize {
						currentBatchSize *= 2
						if currentBatchSize > maxBatchSize {
							currentBatchSize = maxBatchSize
						}
						cleanStreak = 0
					}
				} else {
					consecutiveFailures += batchFailed
					cleanStreak = 0
					currentBatchSize = minBatchSize
				}
				if err != nil && firstErr == nil {
					firstErr = err
				}
				if consecutiveFailures >= maxConsecutiveFailures && firstErr == nil {
					firstErr = core.NewError(core.ErrKindIndex, fmt.Sprintf("aborting after %d consecutive chunk failures", consecutiveFailures), nil)
					cancel()
				}
				if onBatch != nil {
					onBatch(upserted, failed)
				}
				return nil
			})
		}
		_ = g.Wait()
		releaseMemoryHint()

		if firstErr != nil {
			break
		}
	}

	if firstErr != nil {
		return upserted, failed, metadata, firstErr
	}
	return upserted, failed, metadata, nil
}

// releaseMemoryHint asks the runtime to return unused heap memory to the
// OS. Run from a dedicated goroutine so a micro-batch boundary never
// blocks waiting on it.
func releaseMemoryHint() {
	go debug.FreeOSMemory()
}

func (p *PipelineIndexer) processBatch(ctx context.Context, namespace string, batch []core.Chunk) (int, int, []map[string]interface{}, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, len(batch), nil, nil
	}

	records := make([]vectorstore.Record, 0, len(batch))
	embedded := make([]core.Chunk, 0, len(batch))
	failed := 0
	for i, c := range batch {
		if i >= len(embeddings) || embeddings[i] == nil {
			failed++
			continue
		}
		records = append(records, vectorstore.Record{
			ID:       c.ID,
			Vector:   embeddings[i].Vector,
			Metadata: chunkMetadata(c),
		})
		embedded = append(embedded, c)
	}

	if len(records) == 0 {
		return 0, failed, nil, nil
	}

	if err := upsertWithRetry(ctx, p.store, namespace, records, p.upsertRetry); err != nil {
		if ctx.Err() != nil {
			return 0, failed + len(records), nil, err
		}
		// Retries exhausted on a transient-looking failure: skip this
		// batch and count it, same as an embed failure, rather than
		// aborting the whole job on one bad upsert.
		return 0, failed + len(records), nil, nil
	}

	if p.corpus != nil {
		docs := make([]bm25.Document, 0, len(embedded))
		for _, c := range embedded {
			docs = append(docs, bm25.Document{ID: c.ID, Text: c.Text})
		}
		p.corpus.Put(namespace, docs)
	}

	metadata := make([]map[string]interface{}, len(records))
	for i, r := range records {
		metadata[i] = r.Metadata
	}

	return len(records), failed, metadata, nil
}

// upsertWithRetry retries a transient upsert failure with exponential
// backoff and full jitter, the same policy the embedder applies to its own
// transient failures.
func upsertWithRetry(ctx context.Context, store vectorstore.VectorStore, namespace string, records []vectorstore.Record, budget retryBudget) error {
	var lastErr error
	for attempt := 0; attempt < budget.maxRetries; attempt++ {
		lastErr = store.Upsert(ctx, namespace, records)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := sleepWithJitter(ctx, attempt, budget); err != nil {
			return err
		}
	}
	return lastErr
}

// sleepWithJitter waits for a delay drawn uniformly from
// [0, min(budget.cap, budget.base*2^attempt)).
func sleepWithJitter(ctx context.Context, attempt int, budget retryBudget) error {
	ceiling := budget.base * time.Duration(1<<uint(attempt))
	if ceiling > budget.cap || ceiling <= 0 {
		ceiling = budget.cap
	}
	jittered := time.Duration(rand.Int63n(int64(ceiling)))

	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func chunkMetadata(c core.Chunk) map[string]interface{} {
	return map[string]interface{}{
		"path":         c.Path,
		"text":         c.Text,
		"startLine":    c.StartLine,
		"endLine":      c.EndLine,
		"category":     string(c.Category),
		"language":     c.Language,
		"depth":        c.Depth,
		"sizeCategory": string(c.SizeCategory),
		"hasClassDef":  c.HasClassDef,
		"hasFnDef":     c.HasFnDef,
		"hasImports":   c.HasImports,
		"hasTests":     c.HasTests,
		"complexity":   c.Complexity,
		"wordCount":    c.WordCount,
	}
}
