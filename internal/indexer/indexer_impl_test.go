package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhanu1232/RepoRAG/internal/core"
	"github.com/bhanu1232/RepoRAG/internal/embedding"
	"github.com/bhanu1232/RepoRAG/internal/fetcher"
	"github.com/bhanu1232/RepoRAG/internal/repository"
	"github.com/bhanu1232/RepoRAG/internal/vectorstore"
)

type fakeFetcher struct {
	root string
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, revision string) (*fetcher.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fetcher.Snapshot{Root: f.root, Revision: "main"}, nil
}

type fakeWalker struct {
	files []core.FileRecord
	err   error
}

func (w *fakeWalker) Walk(ctx context.Context, root string, ignorePatterns []string, fn func(core.FileRecord) error) error {
	if w.err != nil {
		return w.err
	}
	for _, f := range w.files {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

type fakeChunker struct{}

func (fakeChunker) Chunk(ctx context.Context, repoID string, file core.FileRecord) ([]core.Chunk, error) {
	return []core.Chunk{{
		ID:     core.GenerateChunkID(repoID, file.Path, 1, 1, core.ContentHash(string(file.Bytes))),
		RepoID: repoID,
		Text:   string(file.Bytes),
		Path:   file.Path,
	}}, nil
}

type fakeEnricher struct{}

func (fakeEnricher) Enrich(ctx context.Context, c core.Chunk) core.Chunk { return c }

type fakeEmbedder struct {
	failFrom int
	calls    int
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) (*embedding.Embedding, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*embedding.Embedding, error) {
	out := make([]*embedding.Embedding, len(texts))
	for i, t := range texts {
		e.calls++
		if e.failFrom > 0 && e.calls >= e.failFrom {
			out[i] = nil
			continue
		}
		out[i] = &embedding.Embedding{Text: t, Vector: embedding.Vector{1, 0}}
	}
	return out, nil
}

func (e *fakeEmbedder) Dimensions() int { return 2 }
func (e *fakeEmbedder) Model() string  { return "fake" }

type fakeStore struct {
	upserted int
}

func (s *fakeStore) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	s.upserted += len(records)
	return nil
}
func (s *fakeStore) Query(ctx context.Context, namespace string, vector embedding.Vector, topK int, filters []vectorstore.Filter) ([]vectorstore.Match, error) {
	return nil, nil
}
func (s *fakeStore) DeleteNamespace(ctx context.Context, namespace string) error { return nil }
func (s *fakeStore) Count(ctx context.Context, namespace string) (int64, error) { return 0, nil }
func (s *fakeStore) Close() error                                               { return nil }

// flakyStore fails the first failFor calls to Upsert with a transient-looking
// error before succeeding, so tests can exercise upsertWithRetry's
// retry-then-succeed and retries-exhausted paths without a real backend.
type flakyStore struct {
	failFor  int
	attempts int
	upserted int
}

func (s *flakyStore) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	s.attempts++
	if s.attempts <= s.failFor {
		return core.NewError(core.ErrKindIndex, "transient upsert failure", nil)
	}
	s.upserted += len(records)
	return nil
}
func (s *flakyStore) Query(ctx context.Context, namespace string, vector embedding.Vector, topK int, filters []vectorstore.Filter) ([]vectorstore.Match, error) {
	return nil, nil
}
func (s *flakyStore) DeleteNamespace(ctx context.Context, namespace string) error { return nil }
func (s *flakyStore) Count(ctx context.Context, namespace string) (int64, error)  { return 0, nil }
func (s *flakyStore) Close() error                                                { return nil }

func TestPipelineIndexerIndexesAllFiles(t *testing.T) {
	files := []core.FileRecord{
		{Path: "a.go", Bytes: []byte("package a")},
		{Path: "b.go", Bytes: []byte("package b")},
	}
	store := &fakeStore{}
	idx := NewPipelineIndexer(
		&fakeFetcher{root: "/tmp/repo"},
		&fakeWalker{files: files},
		fakeChunker{},
		fakeEnricher{},
		&fakeEmbedder{},
		store,
		repository.NewRegistry(),
		nil,
	)

	var progressed []Progress
	result, err := idx.Index(context.Background(), Request{RepoURL: "https://example.com/a.git"}, func(p Progress) {
		progressed = append(progressed, p)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.FileCount)
	assert.Equal(t, 2, result.ChunkCount)
	assert.Equal(t, 2, store.upserted)
	assert.NotEmpty(t, progressed)
	assert.Equal(t, PhaseDone, progressed[len(progressed)-1].Phase)
}

func TestPipelineIndexerPropagatesFetchError(t *testing.T) {
	idx := NewPipelineIndexer(
		&fakeFetcher{err: core.NewError(core.ErrKindFetch, "boom", nil)},
		&fakeWalker{},
		fakeChunker{},
		fakeEnricher{},
		&fakeEmbedder{},
		&fakeStore{},
		repository.NewRegistry(),
		nil,
	)

	_, err := idx.Index(context.Background(), Request{RepoURL: "https://example.com/a.git"}, nil)
	require.Error(t, err)
	assert.Equal(t, core.ErrKindFetch, core.KindOf(err))
}

func TestPipelineIndexerSkipsChunksThatFailToEmbed(t *testing.T) {
	files := make([]core.FileRecord, 3)
	for i := range files {
		files[i] = core.FileRecord{Path: "f.go", Bytes: []byte("x")}
	}
	store := &fakeStore{}
	idx := NewPipelineIndexer(
		&fakeFetcher{root: "/tmp/repo"},
		&fakeWalker{files: files},
		fakeChunker{},
		fakeEnricher{},
		&fakeEmbedder{failFrom: 2},
		store,
		repository.NewRegistry(),
		nil,
	)

	result, err := idx.Index(context.Background(), Request{RepoURL: "https://example.com/a.git"}, nil)
	require.NoError(t, err)
	assert.Less(t, result.ChunkCount, 3)
}

func TestPipelineIndexerAbortsAfterConsecutiveFailures(t *testing.T) {
	files := make([]core.FileRecord, maxConsecutiveFailures+5)
	for i := range files {
		files[i] = core.FileRecord{Path: "f.go", Bytes: []byte("x")}
	}
	idx := NewPipelineIndexer(
		&fakeFetcher{root: "/tmp/repo"},
		&fakeWalker{files: files},
		fakeChunker{},
		fakeEnricher{},
		&fakeEmbedder{failFrom: 1},
		&fakeStore{},
		repository.NewRegistry(),
		nil,
	)

	_, err := idx.Index(context.Background(), Request{RepoURL: "https://example.com/a.git"}, nil)
	require.Error(t, err)
	assert.Equal(t, core.ErrKindIndex, core.KindOf(err))
}

type fakeSelectivityUpdater struct {
	namespace string
	metadata  []map[string]interface{}
}

func (u *fakeSelectivityUpdater) Update(namespace string, chunkMetadata []map[string]interface{}) {
	u.namespace = namespace
	u.metadata = chunkMetadata
}

func TestPipelineIndexerRetriesTransientUpsertFailure(t *testing.T) {
	files := []core.FileRecord{{Path: "a.go", Bytes: []byte("package a")}}
	store := &flakyStore{failFor: 2}
	idx := NewPipelineIndexer(
		&fakeFetcher{root: "/tmp/repo"},
		&fakeWalker{files: files},
		fakeChunker{},
		fakeEnricher{},
		&fakeEmbedder{},
		store,
		repository.NewRegistry(),
		nil,
	).WithUpsertRetryBudget(5, time.Millisecond, 5*time.Millisecond)

	result, err := idx.Index(context.Background(), Request{RepoURL: "https://example.com/a.git"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunkCount)
	assert.Equal(t, 1, store.upserted)
	assert.Equal(t, 3, store.attempts)
}

func TestPipelineIndexerSkipsAndCountsAfterUpsertRetriesExhausted(t *testing.T) {
	files := []core.FileRecord{{Path: "a.go", Bytes: []byte("package a")}}
	store := &flakyStore{failFor: 100}
	idx := NewPipelineIndexer(
		&fakeFetcher{root: "/tmp/repo"},
		&fakeWalker{files: files},
		fakeChunker{},
		fakeEnricher{},
		&fakeEmbedder{},
		store,
		repository.NewRegistry(),
		nil,
	).WithUpsertRetryBudget(3, time.Millisecond, 5*time.Millisecond)

	result, err := idx.Index(context.Background(), Request{RepoURL: "https://example.com/a.git"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ChunkCount)
	assert.Equal(t, 0, store.upserted)
	assert.Equal(t, 3, store.attempts)
}

func TestPipelineIndexerRefreshesSelectivityEstimator(t *testing.T) {
	files := []core.FileRecord{
		{Path: "a.go", Bytes: []byte("package a")},
		{Path: "b.py", Bytes: []byte("import os")},
	}
	updater := &fakeSelectivityUpdater{}
	idx := NewPipelineIndexer(
		&fakeFetcher{root: "/tmp/repo"},
		&fakeWalker{files: files},
		fakeChunker{},
		fakeEnricher{},
		&fakeEmbedder{},
		&fakeStore{},
		repository.NewRegistry(),
		nil,
	).WithSelectivityEstimator(updater)

	result, err := idx.Index(context.Background(), Request{RepoURL: "https://example.com/a.git"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, updater.namespace)
	assert.Len(t, updater.metadata, result.ChunkCount)
}
