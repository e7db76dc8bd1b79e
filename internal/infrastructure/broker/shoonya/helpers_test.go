package shoonya

import (
	"time"

	"mdstream/internal/infrastructure/stream"
)

func streamRetry() stream.RetryPolicy {
	return stream.RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, Multiplier: 1, MaxDelay: 10 * time.Millisecond}
}
