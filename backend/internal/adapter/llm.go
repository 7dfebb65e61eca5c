package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "fundgraph/backend/pkg/errors"
	"fundgraph/backend/pkg/logger"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultTemperature = 0.3
	defaultMaxTokens   = 400
)

// LLMAdapter handles communication with the LLM via LiteLLM
type LLMAdapter struct {
	client      *openai.Client
	model       string
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(baseURL, apiKey, modelID string) *LLMAdapter {
	// For LiteLLM, we can use a dummy API key if not provided
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"

	return &LLMAdapter{
		client:      openai.NewClientWithConfig(config),
		model:       modelID,
		maxAttempts: defaultMaxAttempts,
		backoff:     time.Second,
		logger:      logger.Named("llm"),
	}
}

// Model returns the model id requests are sent to
func (a *LLMAdapter) Model() string {
	return a.model
}

// Generate sends a system prompt and user message and returns the reply text
func (a *LLMAdapter) Generate(ctx context.Context, systemPrompt, userMsg string) (string, error) {
	currentModel := a.model
	req := openai.ChatCompletionRequest{
		Model: currentModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}

	// Retry logic with linear backoff
	var resp openai.ChatCompletionResponse
	var err error
	attempt := 0
	for attempt = 1; attempt <= a.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * a.backoff
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return "", apperrors.NewContextCancelled("llm generate", ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, err = a.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}

		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.String("model", currentModel),
		)
		if !retryable(err) || ctx.Err() != nil {
			return "", apperrors.NewAgentLLMFailed(currentModel, attempt, false, err)
		}
	}
	if err != nil {
		return "", apperrors.NewAgentLLMFailed(currentModel, a.maxAttempts, true, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", apperrors.ErrAgentNoResponse
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	a.logger.Debug("LLM response generated",
		zap.String("model", currentModel),
		zap.Int("attempts", attempt),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return content, nil
}

// retryable reports whether a failed request is worth repeating
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	// Transport errors and non-JSON error bodies are usually transient
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
