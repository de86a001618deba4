// Package corpus holds the per-namespace chunk text the sparse retriever
// needs to rebuild its BM25 index. A VectorStore only ever returns the
// metadata of its top-K matches, never a namespace's full document list,
// so the indexer mirrors each upserted chunk's text here as it writes it
// to the vector backend.
package corpus

import (
	"context"
	"sync"

	"github.com/bhanu1232/RepoRAG/internal/bm25"
)

// Store is an in-memory, namespace-scoped mirror of indexed chunk text.
// It implements retrieval.BM25Source.
type Store struct {
	mu   sync.RWMutex
	docs map[string]map[string]bm25.Document
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{docs: make(map[string]map[string]bm25.Document)}
}

// Put records or overwrites docs under namespace.
func (s *Store) Put(namespace string, docs []bm25.Document) {
	if len(docs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.docs[namespace]
	if !ok {
		ns = make(map[string]bm25.Document, len(docs))
		s.docs[namespace] = ns
	}
	for _, d := range docs {
		ns[d.ID] = d
	}
}

// Documents returns every document stored under namespace.
func (s *Store) Documents(ctx context.Context, namespace string) ([]bm25.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := s.docs[namespace]
	out := make([]bm25.Document, 0, len(ns))
	for _, d := range ns {
		out = append(out, d)
	}
	return out, nil
}

// DocumentCount returns the number of documents stored under namespace.
func (s *Store) DocumentCount(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[namespace]), nil
}
