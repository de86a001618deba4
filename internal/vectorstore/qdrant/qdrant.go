// Package qdrant adapts vectorstore.VectorStore to a Qdrant collection per
// namespace, the production dense-vector backend.
package qdrant

import (
	"context"
	"crypto/sha1"
	"fmt"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"

	"github.com/bhanu1232/RepoRAG/internal/core"
	"github.com/bhanu1232/RepoRAG/internal/embedding"
	"github.com/bhanu1232/RepoRAG/internal/vectorstore"
)

// namespaceUUID seeds the v5 UUID derivation for point IDs, so a chunk ID
// deterministically maps to the same Qdrant point across re-ingests.
var namespaceUUID = uuid.MustParse("6f5d1b2a-0c1e-4f3a-9a1e-2c6b9d8e7f10")

// Store is a Qdrant-backed vectorstore.VectorStore. One Qdrant collection
// per namespace (repository id), created lazily on first upsert.
type Store struct {
	client     *qc.Client
	dimensions uint64
}

// Config holds connection parameters for the Qdrant gRPC endpoint.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// Dimensions is the embedder's vector width, needed to create a
	// collection before its first upsert.
	Dimensions int
}

// New dials a Qdrant instance and returns a Store.
func New(cfg Config) (*Store, error) {
	client, err := qc.NewClient(&qc.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, core.NewError(core.ErrKindUpsert, "failed to connect to qdrant", err)
	}
	return &Store{client: client, dimensions: uint64(cfg.Dimensions)}, nil
}

func (s *Store) ensureCollection(ctx context.Context, namespace string) error {
	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return core.NewError(core.ErrKindUpsert, "failed to check collection", err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: namespace,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     s.dimensions,
			Distance: qc.Distance_Cosine,
		}),
	})
}

// Upsert implements vectorstore.VectorStore.
func (s *Store) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, namespace); err != nil {
		return err
	}

	points := make([]*qc.PointStruct, 0, len(records))
	for _, r := range records {
		payload := make(map[string]interface{}, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload["chunk_id"] = r.ID

		points = append(points, &qc.PointStruct{
			Id:      qc.NewID(pointUUID(r.ID)),
			Vectors: qc.NewVectors(r.Vector...),
			Payload: qc.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: namespace,
		Points:         points,
	})
	if err != nil {
		return core.NewError(core.ErrKindUpsert, fmt.Sprintf("upsert into %s failed", namespace), err)
	}
	return nil
}

// Query implements vectorstore.VectorStore.
func (s *Store) Query(ctx context.Context, namespace string, vector embedding.Vector, topK int, filters []vectorstore.Filter) ([]vectorstore.Match, error) {
	limit := uint64(topK)
	resp, err := s.client.Query(ctx, &qc.QueryPoints{
		CollectionName: namespace,
		Query:          qc.NewQuery(vector...),
		Limit:          &limit,
		Filter:         toQdrantFilter(filters),
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, core.NewError(core.ErrKindIndex, fmt.Sprintf("query against %s failed", namespace), err)
	}

	matches := make([]vectorstore.Match, 0, len(resp))
	for _, point := range resp {
		payload := fromQdrantPayload(point.GetPayload())
		id, _ := payload["chunk_id"].(string)
		matches = append(matches, vectorstore.Match{
			ID:       id,
			Score:    point.GetScore(),
			Metadata: payload,
		})
	}
	return matches, nil
}

// DeleteNamespace implements vectorstore.VectorStore.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return core.NewError(core.ErrKindUpsert, "failed to check collection", err)
	}
	if !exists {
		return nil
	}
	return s.client.DeleteCollection(ctx, namespace)
}

// Count implements vectorstore.VectorStore.
func (s *Store) Count(ctx context.Context, namespace string) (int64, error) {
	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil || !exists {
		return 0, err
	}
	count, err := s.client.Count(ctx, &qc.CountPoints{CollectionName: namespace})
	if err != nil {
		return 0, core.NewError(core.ErrKindIndex, "count failed", err)
	}
	return int64(count), nil
}

// Close implements vectorstore.VectorStore.
func (s *Store) Close() error {
	return s.client.Close()
}

// pointUUID derives a stable UUID for a content-addressed chunk ID, since
// Qdrant point IDs must be either unsigned integers or UUIDs.
func pointUUID(chunkID string) string {
	sum := sha1.Sum([]byte(chunkID)) // #nosec G401 - UUID v5 namespace hash, not a security boundary
	return uuid.NewSHA1(namespaceUUID, sum[:]).String()
}

func toQdrantFilter(filters []vectorstore.Filter) *qc.Filter {
	if len(filters) == 0 {
		return nil
	}
	conditions := make([]*qc.Condition, 0, len(filters))
	for _, f := range filters {
		switch f.Op {
		case vectorstore.FilterEq:
			conditions = append(conditions, qc.NewMatch(f.Field, fmt.Sprintf("%v", f.Value)))
		case vectorstore.FilterIn:
			values := make([]string, 0, len(f.Values))
			for _, v := range f.Values {
				values = append(values, fmt.Sprintf("%v", v))
			}
			conditions = append(conditions, qc.NewMatchKeywords(f.Field, values...))
		case vectorstore.FilterLte, vectorstore.FilterGte, vectorstore.FilterLt, vectorstore.FilterGt:
			r := &qc.Range{}
			val, _ := toFloat64(f.Value)
			switch f.Op {
			case vectorstore.FilterLte:
				r.Lte = &val
			case vectorstore.FilterGte:
				r.Gte = &val
			case vectorstore.FilterLt:
				r.Lt = &val
			case vectorstore.FilterGt:
				r.Gt = &val
			}
			conditions = append(conditions, qc.NewRange(f.Field, r))
		}
	}
	return &qc.Filter{Must: conditions}
}

func fromQdrantPayload(payload map[string]*qc.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = v.AsInterface()
	}
	return out
}

func toFloat64(v interface{}) (float64, bool) {
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
