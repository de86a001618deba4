// Package indexer ties the ingestion pipeline together: a Walker
// classifies files, a Chunker slices them into token-budgeted windows, an
// Enricher derives per-chunk metadata, an embedding.Embedder turns chunk
// text into vectors, and a vectorstore.VectorStore persists the result.
// Controller wraps the pipeline in a single-active-job state machine.
package indexer

import (
	"context"
	"time"

	"github.com/bhanu1232/RepoRAG/internal/core"
)

// Walker traverses a repository snapshot, classifying every eligible
// file, and calls fn for each one it did not skip (denylisted, oversize,
// or binary).
type Walker interface {
	Walk(ctx context.Context, root string, ignorePatterns []string, fn func(core.FileRecord) error) error
}

// Chunker splits one classified file into content-addressed chunks.
type Chunker interface {
	Chunk(ctx context.Context, repoID string, file core.FileRecord) ([]core.Chunk, error)
}

// Enricher derives size/structure/complexity metadata for one chunk.
type Enricher interface {
	Enrich(ctx context.Context, chunk core.Chunk) core.Chunk
}

// Phase names the current stage of an ingestion job, reported through
// Progress for the /progress surface.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseWalking   Phase = "walking"
	PhaseChunking  Phase = "chunking"
	PhaseEmbedding Phase = "embedding"
	PhaseUpserting Phase = "upserting"
	PhaseDone      Phase = "done"
	PhaseError     Phase = "error"
)

// Progress is a point-in-time snapshot of an ingestion job. Values are
// monotone non-decreasing within a single job.
type Progress struct {
	JobID          string
	RepoURL        string
	Phase          Phase
	FilesWalked    int
	ChunksCreated  int
	ChunksUpserted int
	ChunksFailed   int
	StartedAt      time.Time
	FinishedAt     time.Time
	Err            string
}

// Request describes one ingestion job.
type Request struct {
	RepoURL        string
	Revision       string
	IgnorePatterns []string
}

// Result is what a completed job produced.
type Result struct {
	RepoID     string
	Namespace  string
	FileCount  int
	ChunkCount int
}

// Indexer runs one ingestion pass synchronously: fetch, walk, chunk,
// enrich, embed, upsert.
type Indexer interface {
	Index(ctx context.Context, req Request, onProgress func(Progress)) (Result, error)
}

// Controller wraps an Indexer in the single-active-job state machine:
// idle -> running -> terminal (result|error) -> idle.
type Controller interface {
	// Start begins a job in the background. Returns an error immediately
	// if a job is already running (single-active-job invariant).
	Start(ctx context.Context, req Request) (jobID string, err error)

	// Cancel requests cancellation of the active job, if any.
	Cancel() error

	// Status returns the most recent progress snapshot.
	Status() Progress

	// HealthCheck reports an error if the active job looks stuck or the
	// last job ended in error.
	HealthCheck(ctx context.Context) error
}
