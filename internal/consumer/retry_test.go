package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateRetryWaitTimeNoJitterGrowsExponentially(t *testing.T) {
	base := 1 * time.Second
	maxDelay := 30 * time.Second

	w0 := calculateRetryWaitTime(0, base, maxDelay, 2.0, false)
	w1 := calculateRetryWaitTime(1, base, maxDelay, 2.0, false)
	w2 := calculateRetryWaitTime(2, base, maxDelay, 2.0, false)

	assert.Equal(t, 1*time.Second, w0)
	assert.Equal(t, 2*time.Second, w1)
	assert.Equal(t, 4*time.Second, w2)
}

func TestCalculateRetryWaitTimeCapsAtMaxDelay(t *testing.T) {
	w := calculateRetryWaitTime(10, 1*time.Second, 5*time.Second, 2.0, false)
	assert.Equal(t, 5*time.Second, w)
}

func TestCalculateRetryWaitTimeJitterStaysInHalfOpenRange(t *testing.T) {
	base := 10 * time.Second
	maxDelay := 100 * time.Second
	for i := 0; i < 50; i++ {
		w := calculateRetryWaitTime(0, base, maxDelay, 2.0, true)
		assert.GreaterOrEqual(t, w, 5*time.Second)
		assert.LessOrEqual(t, w, 10*time.Second)
	}
}
