// Copyright 2025 AI Lead Generation System Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package inference provides the chat completion client used by every model
// stage. The concrete client speaks the OpenAI-compatible chat API, so the
// same code serves the hosted Together AI endpoint and local runtimes that
// expose the same protocol; only the base URL differs.
package inference

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "meta-llama/Llama-3.3-70B-Instruct-Turbo"
	// DefaultBaseURL points at the hosted Together AI OpenAI-compatible API.
	DefaultBaseURL = "https://api.together.xyz/v1"
	// BaseRetryDelay is the starting delay for exponential backoff.
	BaseRetryDelay = time.Second
)

// Request is a single chat completion call: one system message, one user
// message, and the sampling parameters for the stage making the call.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	Model       string
}

// Usage reports token consumption for a completed request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response carries the assistant message for a completed request.
type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Client is the completion interface the pipeline depends on. Production
// code uses OpenAIClient; tests substitute stubs.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// RetryableError represents an API error worth retrying.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, e.Message)
}

// Config controls the concrete client. Zero values fall back to defaults,
// except APIKey which is always required.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// MaxAttempts bounds tries per request. The default of 1 makes every
	// call single-shot; stage fallbacks handle the failures.
	MaxAttempts int

	// RequestsPerSecond throttles outbound calls across all stages.
	// Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// OpenAIClient wraps the go-openai client with logging, throttling, and
// optional retry.
type OpenAIClient struct {
	client      *openai.Client
	logger      *zap.Logger
	model       string
	maxAttempts int
	limiter     *rate.Limiter
}

// NewClient creates a client for the configured endpoint. The API key is
// never logged; only its presence is validated here.
func NewClient(cfg Config, logger *zap.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = baseURL

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	c := &OpenAIClient{
		client:      openai.NewClientWithConfig(clientConfig),
		logger:      logger,
		model:       model,
		maxAttempts: maxAttempts,
		limiter:     limiter,
	}

	c.logger.Info("Inference client initialized",
		zap.String("base_url", baseURL),
		zap.String("model", model),
		zap.Int("max_attempts", maxAttempts),
		zap.Float64("requests_per_second", cfg.RequestsPerSecond),
	)

	return c, nil
}

// Complete sends one chat completion request and returns the assistant
// message. Retryable API errors are retried with exponential backoff up to
// the configured attempt budget; everything else returns immediately.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	apiReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	c.logger.Debug("Creating chat completion",
		zap.String("model", model),
		zap.Int("max_tokens", req.MaxTokens),
		zap.Float64("temperature", float64(req.Temperature)),
		zap.String("user_preview", truncateText(req.User, 100)),
	)

	var lastErr error
	delay := BaseRetryDelay

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying chat completion request",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, apiReq)
		if err != nil {
			lastErr = c.handleAPIError(err)

			if retryErr, ok := lastErr.(*RetryableError); ok {
				if retryErr.RetryAfter > 0 {
					delay = retryErr.RetryAfter
				} else {
					delay = BaseRetryDelay * time.Duration(1<<uint(attempt))
				}
				continue
			}

			return nil, lastErr
		}

		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("no choices returned from completion API")
		}

		c.logger.Debug("Chat completion successful",
			zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.Int("total_tokens", resp.Usage.TotalTokens),
		)

		return &Response{
			Content:      resp.Choices[0].Message.Content,
			FinishReason: string(resp.Choices[0].FinishReason),
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}, nil
	}

	return nil, fmt.Errorf("exhausted all retry attempts: %w", lastErr)
}

// Healthcheck verifies the endpoint answers authenticated requests. It
// lists models rather than spending completion tokens.
func (c *OpenAIClient) Healthcheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("model list failed: %w", err)
	}
	return nil
}

// handleAPIError classifies an API error and wraps retryable ones.
func (c *OpenAIClient) handleAPIError(err error) error {
	if apiErr, ok := err.(*openai.APIError); ok {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("invalid API key or unauthorized access: %w", err)
		case http.StatusTooManyRequests:
			return &RetryableError{
				StatusCode: apiErr.HTTPStatusCode,
				Message:    apiErr.Message,
				RetryAfter: BaseRetryDelay,
			}
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return &RetryableError{
				StatusCode: apiErr.HTTPStatusCode,
				Message:    apiErr.Message,
			}
		default:
			return fmt.Errorf("completion API error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
	}

	return fmt.Errorf("completion client error: %w", err)
}

// truncateText truncates text to a maximum length for logging.
func truncateText(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	return text[:maxLength] + "..."
}
