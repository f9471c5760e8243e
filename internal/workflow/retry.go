package workflow

import (
	"math"
	"math/rand"
	"time"
)

// calculateRetryWaitTimeMs mirrors internal/consumer's backoff formula
// (min(interval * rate^attempt, max_delay), optional [0.5,1.0] jitter),
// adapted to a RetryEntry's float64-seconds fields and optional cap.
func calculateRetryWaitTimeMs(attempt int, interval float64, maxDelay *float64, backoffRate float64, jitter bool) time.Duration {
	if interval <= 0 {
		interval = 1
	}
	if backoffRate <= 0 {
		backoffRate = 2.0
	}
	wait := interval * math.Pow(backoffRate, float64(attempt))
	if maxDelay != nil && wait > *maxDelay {
		wait = *maxDelay
	}
	if jitter {
		wait *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(wait * float64(time.Second))
}
