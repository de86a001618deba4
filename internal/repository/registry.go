// Package repository tracks repository descriptors: the id/namespace
// derived from a repo URL, and the in-memory registry of ingested repos.
//
// Per spec §6 there is no persisted local state beyond the vector store
// namespace; the registry here is a process-local cache. It starts empty
// on every process start, and nothing repopulates it from the vector store.
package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/bhanu1232/RepoRAG/internal/core"
)

// DeriveID produces a stable, case-folded identifier for a repository URL.
// Two URLs that normalize to the same string (case, trailing slash, a
// trailing ".git") map to the same id and therefore the same namespace.
func DeriveID(url string) string {
	normalized := strings.ToLower(strings.TrimSpace(url))
	normalized = strings.TrimSuffix(normalized, "/")
	normalized = strings.TrimSuffix(normalized, ".git")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:24]
}

// Registry is a mutex-guarded in-memory map of repository descriptors.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]core.RepositoryDescriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]core.RepositoryDescriptor)}
}

// Upsert creates or updates the descriptor for a repo, bumping counts and
// IndexedAt. It is the only mutation path — descriptors are otherwise
// read-only snapshots.
func (r *Registry) Upsert(url, revision string, fileCount, chunkCount int, indexedAt time.Time) core.RepositoryDescriptor {
	id := DeriveID(url)
	r.mu.Lock()
	defer r.mu.Unlock()

	desc := core.RepositoryDescriptor{
		ID:         id,
		URL:        url,
		Revision:   revision,
		Namespace:  id,
		FileCount:  fileCount,
		ChunkCount: chunkCount,
		IndexedAt:  indexedAt,
	}
	r.byID[id] = desc
	return desc
}

// Get returns the descriptor for a repo URL, if known.
func (r *Registry) Get(url string) (core.RepositoryDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.byID[DeriveID(url)]
	return desc, ok
}

// GetByNamespace returns the descriptor for a namespace (== repo id).
func (r *Registry) GetByNamespace(namespace string) (core.RepositoryDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.byID[namespace]
	return desc, ok
}

// Delete removes a repository's descriptor. Callers are responsible for
// also calling VectorStore.DeleteNamespace.
func (r *Registry) Delete(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, DeriveID(url))
}
