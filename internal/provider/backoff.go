package provider

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/diffpilot/diffpilot/internal/core"
)

const (
	backoffBase     = 500 * time.Millisecond
	backoffCap      = 30 * time.Second
	backoffAttempts = 5
)

// withBackoff retries fn on rate-limit errors with exponential backoff and
// full jitter. Other errors pass through unchanged. After the final attempt
// the rate-limit error is surfaced with its retry-after hint intact.
func withBackoff(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < backoffAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, core.ErrRateLimited) {
			return err
		}

		delay := backoffBase << attempt
		if delay > backoffCap {
			delay = backoffCap
		}
		var rl *core.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
			if delay > backoffCap {
				delay = backoffCap
			}
		}
		// Full jitter: sleep a uniform fraction of the computed delay.
		sleep := time.Duration(rand.Int63n(int64(delay) + 1))

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
