package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRecord_JSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := TokenRecord{
		Mint:       "m1",
		Name:       "Foo",
		Symbol:     "FOO",
		Creator:    "0xabc",
		CreatedAt:  now,
		CexSources: []string{"0x0a", "0x0b"},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got TokenRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rec, got)
}

func TestTokenRecord_OmitsEmptyOptionalFields(t *testing.T) {
	rec := TokenRecord{Mint: "m1", Name: "Foo"}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasBondingCurve := raw["bonding_curve"]
	_, hasCexSources := raw["cex_sources"]
	_, hasCexUpdatedAt := raw["cex_updated_at"]
	assert.False(t, hasBondingCurve)
	assert.False(t, hasCexSources)
	assert.False(t, hasCexUpdatedAt)
}

func TestNewTokenCache_JSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	token := NewTokenCache{Mint: "m1", Creator: "0xabc", CreatedAt: now}

	data, err := json.Marshal(token)
	require.NoError(t, err)

	var got NewTokenCache
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, token, got)
}

func TestTokenCexUpdatedEnvelope_JSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env := TokenCexUpdatedEnvelope{
		Mint:         "m1",
		CexName:      "binance",
		CexAddress:   "0x0a",
		Creator:      "0xabc",
		CexUpdatedAt: now,
		NodeCount:    3,
		EdgeCount:    2,
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var got TokenCexUpdatedEnvelope
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, env, got)
}

func TestChannelNames_MatchSpecConstants(t *testing.T) {
	assert.Equal(t, "new_token_created", ChannelNewTokenCreated)
	assert.Equal(t, "token_cex_updated", ChannelTokenCexUpdated)
}
