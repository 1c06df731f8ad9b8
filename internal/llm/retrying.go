package llm

import (
	"context"
	"log/slog"

	"github.com/emachat/ema/internal/retry"
	"github.com/emachat/ema/pkg/models"
)

// RetryingClient decorates a Client with the bounded-attempt retry
// policy. Cancellation passes through untouched; exhaustion surfaces
// as *retry.ExhaustedError so the agent loop can report the attempt
// count.
type RetryingClient struct {
	inner  Client
	config retry.Config
	logger *slog.Logger
}

// NewRetryingClient wraps inner with the given retry configuration.
func NewRetryingClient(inner Client, config retry.Config, logger *slog.Logger) *RetryingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingClient{inner: inner, config: config, logger: logger}
}

// Generate calls the inner client, retrying transient failures.
func (c *RetryingClient) Generate(ctx context.Context, req *Request) (*models.LLMResponse, error) {
	return retry.Do(ctx, c.config, func(attempt int) (*models.LLMResponse, error) {
		resp, err := c.inner.Generate(ctx, req)
		if err != nil && attempt < c.config.MaxAttempts {
			c.logger.Warn("llm call failed, will retry",
				"attempt", attempt,
				"max_attempts", c.config.MaxAttempts,
				"error", err,
			)
		}
		return resp, err
	})
}
