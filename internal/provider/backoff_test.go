package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/diffpilot/diffpilot/internal/core"
)

func TestWithBackoffRetriesRateLimits(t *testing.T) {
	attempts := 0
	err := withBackoff(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return &core.RateLimitError{RetryAfter: 0}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := withBackoff(context.Background(), func() error {
		attempts++
		return &core.RateLimitError{RetryAfter: 0}
	})
	assert.ErrorIs(t, err, core.ErrRateLimited)
	assert.Equal(t, backoffAttempts, attempts)

	var rl *core.RateLimitError
	assert.True(t, errors.As(err, &rl), "retry-after hint survives the retries")
}

func TestWithBackoffPassesOtherErrorsThrough(t *testing.T) {
	attempts := 0
	wantErr := fmt.Errorf("%w: boom", core.ErrTransport)
	err := withBackoff(context.Background(), func() error {
		attempts++
		return wantErr
	})
	assert.ErrorIs(t, err, core.ErrTransport)
	assert.Equal(t, 1, attempts, "non-rate-limit errors are not retried")
}

func TestWithBackoffHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withBackoff(ctx, func() error {
		return &core.RateLimitError{RetryAfter: backoffCap}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
