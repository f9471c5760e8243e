package consumer

import (
	"math"
	"math/rand"
	"time"
)

// calculateRetryWaitTime implements spec.md §4.5's
// calculate_retry_wait_time_ms: min(base * rate^attempt, max_delay),
// optionally scaled by a uniform [0.5, 1.0] jitter factor.
func calculateRetryWaitTime(attempt int, baseDelay, maxDelay time.Duration, backoffRate float64, jitter bool) time.Duration {
	base := baseDelay.Seconds()
	wait := base * math.Pow(backoffRate, float64(attempt))
	if maxD := maxDelay.Seconds(); wait > maxD {
		wait = maxD
	}
	if jitter {
		wait *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(wait * float64(time.Second))
}
