// Package openaiembed adapts embedding.Embedder to OpenAI's embeddings
// API, the production embedding provider.
package openaiembed

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/bhanu1232/RepoRAG/internal/core"
	"github.com/bhanu1232/RepoRAG/internal/embedding"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "text-embedding-3-small"

// maxRetries bounds the exponential-backoff retry loop for transient
// failures (rate limits, 5xx).
const maxRetries = 5

// backoffBase and backoffCap bound the exponential-backoff-with-full-jitter
// delay between retries.
const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 15 * time.Second
)

// Embedder calls OpenAI's embeddings endpoint and normalizes the
// resulting vectors to unit length, matching the pinned contract's
// unit-norm guarantee.
type Embedder struct {
	client     openai.Client
	model      string
	dimensions int
}

// New builds an Embedder. apiKey is used as given (config.Load reads it
// from the environment at startup); an empty key is not rejected here and
// only surfaces as an error from the first embed request.
func New(apiKey, model string, dimensions int) *Embedder {
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:      model,
		dimensions: dimensions,
	}
}

// Embed implements embedding.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (*embedding.Embedding, error) {
	if text == "" {
		return nil, core.NewError(core.ErrKindEmbed, "cannot embed empty text", nil)
	}
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch implements embedding.Embedder, retrying transient failures
// with exponential backoff and full jitter.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([]*embedding.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp *openai.CreateEmbeddingResponse
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, lastErr = e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: e.model,
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		})
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, core.NewError(core.ErrKindCancelled, "embed cancelled", ctx.Err())
		}
		if !isRetryable(lastErr) {
			return nil, core.NewError(core.ErrKindEmbed, "embedding request failed", lastErr)
		}
		if err := sleepWithJitter(ctx, attempt); err != nil {
			return nil, core.NewError(core.ErrKindCancelled, "embed cancelled during backoff", err)
		}
	}
	if lastErr != nil {
		return nil, core.NewError(core.ErrKindEmbed, "embedding request exhausted retries", lastErr)
	}

	out := make([]*embedding.Embedding, 0, len(resp.Data))
	for i, item := range resp.Data {
		vec := make(embedding.Vector, len(item.Embedding))
		for j, f := range item.Embedding {
			vec[j] = float32(f)
		}
		out = append(out, &embedding.Embedding{
			Text:   texts[i],
			Vector: normalize(vec),
			Model:  fmt.Sprintf("openai/%s", e.model),
		})
	}
	return out, nil
}

// Dimensions implements embedding.Embedder.
func (e *Embedder) Dimensions() int { return e.dimensions }

// Model implements embedding.Embedder.
func (e *Embedder) Model() string { return fmt.Sprintf("openai/%s", e.model) }

func normalize(v embedding.Vector) embedding.Vector {
	var sumSquares float32
	for _, x := range v {
		sumSquares += x * x
	}
	if sumSquares == 0 {
		return v
	}
	magnitude := float32(math.Sqrt(float64(sumSquares)))
	out := make(embedding.Vector, len(v))
	for i, x := range v {
		out[i] = x / magnitude
	}
	return out
}

func isRetryable(err error) bool {
	var apiErr *openai.Error
	if ok := asAPIError(err, &apiErr); ok {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}

func asAPIError(err error, target **openai.Error) bool {
	apiErr, ok := err.(*openai.Error)
	if ok {
		*target = apiErr
	}
	return ok
}

// sleepWithJitter waits with exponential-backoff-with-full-jitter: a delay
// drawn uniformly from [0, min(backoffCap, backoffBase*2^attempt)).
func sleepWithJitter(ctx context.Context, attempt int) error {
	ceiling := backoffBase * time.Duration(1<<uint(attempt))
	if ceiling > backoffCap || ceiling <= 0 {
		ceiling = backoffCap
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

// Provider implements embedding.Provider so openaiembed can be registered
// in embedding.Registry alongside the mock provider.
type Provider struct{}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Create(config map[string]interface{}) (embedding.Embedder, error) {
	apiKey, _ := config["api_key"].(string)
	if apiKey == "" {
		return nil, core.NewError(core.ErrKindEmbed, "api_key is required for openai provider", nil)
	}
	model, _ := config["model"].(string)
	dimensions := 1536
	if dim, ok := config["dimensions"].(int); ok {
		dimensions = dim
	}
	return New(apiKey, model, dimensions), nil
}
