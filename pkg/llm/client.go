// Package llm wraps the chat-completion API used by the pipeline and the
// validation judge.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrModel indicates the completion provider failed or returned an unusable
// response.
var ErrModel = errors.New("llm: completion failed")

const (
	maxRetries = 2
	retryDelay = 2 * time.Second
)

// Client produces chat completions.
type Client interface {
	// Complete sends a system and user prompt to the given model and returns
	// the assistant text.
	Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// OpenAIClient is the production Client backed by an OpenAI-compatible API.
type OpenAIClient struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client. baseURL overrides the API endpoint when
// non-empty, which is how self-hosted compatible backends are reached.
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With("component", "llm"),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying completion", "model", model, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrModel, ctx.Err())
			case <-time.After(retryDelay):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %v", ErrModel, err)
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("empty choices")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("%w: %v", ErrModel, lastErr)
}
