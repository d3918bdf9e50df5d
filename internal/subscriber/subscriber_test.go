package subscriber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload_ValidJSON(t *testing.T) {
	payload, err := decodePayload(`{"mint":"m1","creator":"0xabc","name":"foo"}`)
	require.NoError(t, err)
	assert.Equal(t, "m1", payload.Mint)
	assert.Equal(t, "0xabc", payload.Creator)
}

func TestDecodePayload_InvalidJSONReturnsError(t *testing.T) {
	_, err := decodePayload(`not-json`)
	assert.Error(t, err)
}

func TestDecodePayload_EmptyPayloadReturnsError(t *testing.T) {
	_, err := decodePayload(``)
	assert.Error(t, err)
}

// backoffDelayAt mirrors the formula embedded in Run (100*2^attempt ms) so
// the growth and ordering can be checked without driving a real subscribe loop.
func backoffDelayAt(attempt int) time.Duration {
	return time.Duration(100*(1<<uint(attempt))) * time.Millisecond
}

func TestSubscribeBackoff_DoublesEachAttempt(t *testing.T) {
	for attempt := 0; attempt < maxSubscribeRetries-1; attempt++ {
		assert.Equal(t, 2*backoffDelayAt(attempt), backoffDelayAt(attempt+1))
	}
}

func TestSubscribeBackoff_FirstAttemptIsBaseDelay(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoffDelayAt(0))
}

func TestMaxSubscribeRetries_IsPositive(t *testing.T) {
	assert.Greater(t, maxSubscribeRetries, 0)
}
