package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// CompleteWithRetry calls the provider with exponential backoff retry.
// Permanent failures (auth, invalid request) return immediately.
func CompleteWithRetry(ctx context.Context, p Provider, request Request, maxRetries int) (*Response, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		response, err := p.Complete(ctx, request)
		if err == nil {
			return response, nil
		}

		err = Classify(p.Name(), err)
		lastErr = err

		// Don't retry on permanent errors
		if !IsRetryableError(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delayMs := 1000 * (1 << attempt)
		log.Info().
			Str("provider", p.Name()).
			Int("attempt", attempt+1).
			Int("delayMs", delayMs).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(delayMs) * time.Millisecond):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}
