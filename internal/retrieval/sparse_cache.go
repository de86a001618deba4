package retrieval

import (
	"sync"

	"github.com/bhanu1232/RepoRAG/internal/bm25"
)

// sparseIndexCache holds one bm25.Index per namespace, rebuilt lazily
// when bm25.Index.ShouldRebuild reports drift.
type sparseIndexCache struct {
	mu      sync.RWMutex
	indexes map[string]*bm25.Index
}

func newSparseIndexCache() *sparseIndexCache {
	return &sparseIndexCache{indexes: make(map[string]*bm25.Index)}
}

func (c *sparseIndexCache) get(namespace string) *bm25.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexes[namespace]
}

func (c *sparseIndexCache) put(namespace string, idx *bm25.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[namespace] = idx
}
