package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bhanu1232/RepoRAG/internal/embedding"
)

// MemoryStore is an in-memory VectorStore used in unit tests and as a
// reference implementation of the pinned contract. Namespaces are
// independent; records never leak across them.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Record
	lastUpsert map[string]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		namespaces: make(map[string]map[string]Record),
		lastUpsert: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]Record)
		m.namespaces[namespace] = ns
	}
	for _, r := range records {
		ns[r.ID] = r
	}
	m.lastUpsert[namespace] = time.Now()
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, namespace string, vector embedding.Vector, topK int, filters []Filter) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns := m.namespaces[namespace]
	matches := make([]Match, 0, len(ns))
	for _, r := range ns {
		if !matchesFilters(r.Metadata, filters) {
			continue
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Score:    cosineSimilarity(vector, r.Vector),
			Metadata: r.Metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *MemoryStore) DeleteNamespace(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	delete(m.lastUpsert, namespace)
	return nil
}

func (m *MemoryStore) Count(ctx context.Context, namespace string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.namespaces[namespace])), nil
}

func (m *MemoryStore) Close() error { return nil }

// Stats returns bookkeeping about a namespace, useful for /health checks
// in tests.
func (m *MemoryStore) Stats(namespace string) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		RecordCount:  int64(len(m.namespaces[namespace])),
		LastUpsertAt: m.lastUpsert[namespace],
	}
}

func cosineSimilarity(a, b embedding.Vector) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float32
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(magA))*math.Sqrt(float64(magB)))
}

func matchesFilters(metadata map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		val, ok := metadata[f.Field]
		if !ok {
			return false
		}
		if !matchesFilter(val, f) {
			return false
		}
	}
	return true
}

func matchesFilter(val interface{}, f Filter) bool {
	switch f.Op {
	case FilterEq:
		return val == f.Value
	case FilterIn:
		for _, v := range f.Values {
			if val == v {
				return true
			}
		}
		return false
	case FilterLte, FilterGte, FilterLt, FilterGt:
		a, aok := toFloat(val)
		b, bok := toFloat(f.Value)
		if !aok || !bok {
			return false
		}
		switch f.Op {
		case FilterLte:
			return a <= b
		case FilterGte:
			return a >= b
		case FilterLt:
			return a < b
		case FilterGt:
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
