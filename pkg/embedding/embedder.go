// Package embedding produces and persists message vectors for semantic
// history search.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmbed indicates the embedding provider failed.
var ErrEmbed = errors.New("embedding: request failed")

// Dimensions is the vector width of the embedding model. The message
// embedding column is declared with the same width.
const Dimensions = 1536

// maxInputChars bounds the text sent to the provider; longer inputs are
// truncated, not rejected.
const maxInputChars = 8000

const (
	embedRetries   = 2
	embedRetryWait = time.Second
)

// Embedder turns text into a fixed-width vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder is the production Embedder backed by an OpenAI-compatible
// embeddings endpoint, with an in-process TTL cache in front of it.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	cache  *vectorCache
}

// NewOpenAIEmbedder creates an embedder for the given model. cacheTTL bounds
// how long a text's vector is reused without re-requesting it.
func NewOpenAIEmbedder(apiKey, baseURL, model string, cacheTTL time.Duration) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		cache:  newVectorCache(cacheTTL),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > maxInputChars {
		text = text[:maxInputChars]
	}
	key := cacheKey(e.model, text)
	if v, ok := e.cache.get(key); ok {
		return v, nil
	}

	var lastErr error
	for attempt := 0; attempt <= embedRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrEmbed, ctx.Err())
			case <-time.After(embedRetryWait):
			}
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: []string{text},
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrEmbed, err)
			}
			continue
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			lastErr = errors.New("empty embedding")
			continue
		}
		vec := resp.Data[0].Embedding
		e.cache.put(key, vec)
		return vec, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrEmbed, lastErr)
}
