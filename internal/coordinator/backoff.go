// File: internal/coordinator/backoff.go
package coordinator

import (
	"math/rand"
	"time"
)

// backoffDelay computes the wait before a failed record may be resubmitted.
// Exponential in the retry count, capped, with up to 20% jitter so that
// records failed in the same sweep do not retry in lockstep.
func backoffDelay(base, max time.Duration, retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	if base <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	jitterRange := int64(delay / 5)
	if jitterRange > 0 {
		delay += time.Duration(rand.Int63n(jitterRange)) - time.Duration(jitterRange/2)
	}
	return delay
}
