package evmrpc

import (
	"context"
	"strings"
	"time"

	"github.com/CroLens/server/internal/logger"
)

// retryConfig defines retry behavior for upstream calls.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
}

// WithRetry wraps an upstream operation with bounded retries and exponential
// backoff. Well-formed JSON-RPC error bodies are never retried; only network
// faults and upstream 5xx are.
func WithRetry[T any](ctx context.Context, cfg retryConfig, operation func() (T, error)) (T, error) {
	var result T
	var err error

	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		result, err = operation()
		if err == nil {
			return result, nil
		}

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return result, err
		}

		if !isRetryableError(err) {
			return result, err
		}

		// Last attempt - don't sleep
		if attempt == cfg.maxRetries {
			break
		}

		// Exponential backoff: 100ms, 200ms, 400ms
		delay := cfg.baseDelay * time.Duration(1<<uint(attempt))
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.maxRetries+1).
			Dur("retry_delay", delay).
			Msg("rpc.operation_retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	return result, err
}

// isRetryableError determines if an error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Upstream answered with a JSON-RPC error body: the call is well-formed
	// and deterministic, retrying will not help.
	if _, ok := err.(*upstreamError); ok {
		return false
	}

	msg := strings.ToLower(err.Error())

	// Network errors
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure") ||
		strings.Contains(msg, "network") ||
		strings.Contains(msg, "eof") {
		return true
	}

	// Server errors (5xx)
	if strings.Contains(msg, "status 500") ||
		strings.Contains(msg, "status 502") ||
		strings.Contains(msg, "status 503") ||
		strings.Contains(msg, "status 504") {
		return true
	}

	return false
}
