package scheduler

import (
	"time"

	"github.com/joss/taskmesh/internal/config"
)

// retryDelay computes the wait before re-queueing a failed attempt.
// attempt is 1-based; the result is always >= BaseDelay and <= MaxDelay.
func retryDelay(s config.Settings, attempt int) time.Duration {
	base := s.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	delay := base
	if s.BackoffStrategy == "exponential" {
		for i := 1; i < attempt; i++ {
			delay *= 2
			if s.MaxDelay > 0 && delay >= s.MaxDelay {
				delay = s.MaxDelay
				break
			}
		}
	}
	if s.MaxDelay > 0 && delay > s.MaxDelay {
		delay = s.MaxDelay
	}
	return delay
}
