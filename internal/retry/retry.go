// Package retry wraps idempotent network calls in an exponential backoff
// policy. It is used for every provider call in the system (embedding,
// scraping, generation) so transient failures are handled uniformly.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	MaxRetries      int           // Maximum number of retry attempts after the first try
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Backoff cap
}

// DefaultPolicy returns sensible defaults for provider API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups error substrings by category, matched
// case-insensitively against err.Error().
//
// String matching is used because the embedding and generation SDKs do not
// expose typed errors for transient failures. Re-evaluate if the providers
// grow structured error types.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
	{"model is overloaded", "resource exhausted"}, // provider cold start / pressure
}

// Retryable reports whether err is transient and worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, sub := range group {
			if strings.Contains(errStr, sub) {
				return true
			}
		}
	}
	return false
}

// Do runs op with exponential backoff per p. Non-retryable errors surface
// immediately; retryable ones are retried until the budget is exhausted, at
// which point the last error is returned wrapped with attempt context.
//
// Zero-value policy fields fall back to DefaultPolicy values.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultPolicy().MaxRetries
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultPolicy().InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultPolicy().MaxInterval
	}

	var lastErr error
	delay := p.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !Retryable(err) {
			return zero, err
		}

		if attempt == p.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, p.MaxInterval)
		}
	}

	return zero, fmt.Errorf("giving up after %d retries (elapsed: %v): %w",
		p.MaxRetries, time.Since(start).Round(time.Millisecond), lastErr)
}
