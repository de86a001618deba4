// Package vectorstore defines the dense-vector storage contract the core
// pipeline consumes: namespace-scoped upsert, filtered top-K query, and
// namespace deletion. Sparse (BM25) search and result fusion live above
// this package in internal/bm25 and internal/retrieval; a VectorStore only
// ever sees dense vectors.
package vectorstore

import (
	"context"
	"time"

	"github.com/bhanu1232/RepoRAG/internal/embedding"
)

// FilterOp is one of the metadata filter operators the store contract
// guarantees support for.
type FilterOp string

const (
	FilterEq  FilterOp = "$eq"
	FilterIn  FilterOp = "$in"
	FilterLte FilterOp = "$lte"
	FilterGte FilterOp = "$gte"
	FilterLt  FilterOp = "$lt"
	FilterGt  FilterOp = "$gt"
)

// Filter constrains a query to records whose metadata field matches Op
// against Value (or one of Values, for $in).
type Filter struct {
	Field  string
	Op     FilterOp
	Value  interface{}
	Values []interface{}
}

// Record is a single vector plus its retrievable metadata, keyed by a
// content-addressed chunk ID.
type Record struct {
	ID       string
	Vector   embedding.Vector
	Metadata map[string]interface{}
}

// Match is a single result from Query, ranked by descending score.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]interface{}
}

// VectorStore is the pinned contract every backend (qdrant, in-memory
// test double) implements. All operations are scoped to a namespace,
// which in this system always equals a repository's id.
type VectorStore interface {
	// Upsert inserts or overwrites records in namespace. Idempotent on
	// Record.ID: re-upserting an unchanged batch leaves the store in the
	// same state.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// Query returns up to topK nearest matches to vector in namespace,
	// restricted to records whose metadata satisfies every filter.
	Query(ctx context.Context, namespace string, vector embedding.Vector, topK int, filters []Filter) ([]Match, error)

	// DeleteNamespace removes every record in namespace.
	DeleteNamespace(ctx context.Context, namespace string) error

	// Count returns the number of records stored in namespace.
	Count(ctx context.Context, namespace string) (int64, error)

	// Close releases backend resources.
	Close() error
}

// Stats summarizes a namespace's contents. MemoryStore.Stats returns it;
// no HTTP route reads it.
type Stats struct {
	RecordCount   int64
	LastUpsertAt  time.Time
}
