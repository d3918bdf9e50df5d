package rpcpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_GrowsWithAttempt(t *testing.T) {
	base := 10 * time.Millisecond
	max := time.Second

	// worst-case d0 (jitter +25%) is still below best-case d3 (jitter -25%)
	// since 3^3 = 27 dwarfs the jitter band at attempt 0.
	d0 := backoffDelay(base, max, 0)
	d3 := backoffDelay(base, max, 3)
	assert.Less(t, d0, d3)
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	base := 10 * time.Millisecond
	max := 50 * time.Millisecond
	for attempt := 0; attempt < 20; attempt++ {
		d := backoffDelay(base, max, attempt)
		assert.LessOrEqual(t, d, max+max/4) // max plus jitter headroom
	}
}

func TestBackoffDelay_NeverNegative(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(0, time.Millisecond, attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestBackoffDelay_ExportedWrapperMatchesInternal(t *testing.T) {
	// attempt 0 of the internal curve is base +/-25%.
	d := BackoffDelay(time.Millisecond, time.Second, 0)
	assert.GreaterOrEqual(t, d, 750*time.Microsecond)
	assert.LessOrEqual(t, d, 1250*time.Microsecond)
}
