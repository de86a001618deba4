// Package anthropicllm adapts llm.Client to the Anthropic Messages API,
// the production answer-generation backend.
package anthropicllm

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bhanu1232/RepoRAG/internal/core"
	"github.com/bhanu1232/RepoRAG/internal/llm"
)

// DefaultModel is used when the caller does not specify one.
const DefaultModel = anthropic.ModelClaudeSonnet4_5

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 60 * time.Second

// Client wraps the Anthropic SDK behind the llm.Client contract.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New builds a Client. apiKey is used as given; an empty key is not
// rejected here and only surfaces as an error from the first Complete call.
func New(apiKey string, model string) *Client {
	m := anthropic.Model(model)
	if model == "" {
		m = DefaultModel
	}
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := c.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
		Temperature: anthropic.Float(float64(req.Temperature)),
	})
	if err != nil {
		if ctx.Err() != nil {
			return llm.Response{}, core.NewError(core.ErrKindCancelled, "answer generation cancelled", ctx.Err())
		}
		return llm.Response{}, core.NewError(core.ErrKindAnswer, "anthropic completion failed", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return llm.Response{Text: text}, nil
}
