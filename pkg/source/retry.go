package source

import (
	"context"
	"log"
	"time"
)

// Attempt runs op up to maxAttempts times with a fixed delay between tries.
// It returns nil on the first success, the last error once attempts are
// exhausted, or the context error if cancelled while waiting to retry.
// The op itself is never interrupted mid-flight.
func Attempt(ctx context.Context, maxAttempts int, delay time.Duration, op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			if attempt > 1 {
				log.Printf("Attempt %d/%d succeeded", attempt, maxAttempts)
			}
			return nil
		}

		if attempt < maxAttempts {
			log.Printf("Attempt %d/%d failed, retrying in %v: %v", attempt, maxAttempts, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}
