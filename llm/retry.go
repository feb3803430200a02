package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Retry tuning for every provider adapter (spec §4.5): small, fast backoff
// since providers are called inline from request-serving goroutines and from
// workers, never in a tight loop.
const (
	maxAttempts    = 3
	baseRetryDelay = 100 * time.Millisecond
	retryMultiplier = 1.5
)

// classifyStatus maps an HTTP status code from an OpenAI-shaped API to a
// ProviderErrorKind (spec §7).
func classifyStatus(code int) ProviderErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ProviderErrAuth
	case code == http.StatusTooManyRequests:
		return ProviderErrRateLimit
	case code == http.StatusNotFound:
		return ProviderErrNotFound
	case code >= 500:
		return ProviderErrServer
	case code >= 400:
		return ProviderErrBadRequest
	default:
		return ProviderErrServer
	}
}

// withRetry runs fn up to maxAttempts times, retrying only when fn returns a
// *ProviderError with Retryable set (spec §4.5 exponential backoff: 100ms
// base, 1.5x multiplier, max 3 attempts). A rate limiter, when
// provided, is waited on before every attempt so a slow provider throttles
// callers instead of burning retries against its limit.
func withRetry(ctx context.Context, limiter *rate.Limiter, fn func() error) error {
	delay := baseRetryDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var perr *ProviderError
		if !errors.As(err, &perr) || !perr.Retryable || attempt == maxAttempts {
			return err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * retryMultiplier)
	}
	return lastErr
}

// newLimiter builds a per-provider rate limiter. ratePerSecond <= 0 disables
// limiting (burst-only local providers like Ollama).
func newLimiter(ratePerSecond float64, burst int) *rate.Limiter {
	if ratePerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(ratePerSecond), burst)
}
