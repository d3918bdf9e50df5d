package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizilab/al-hafiz/internal/storage/cache"
)

type fakePublisher struct {
	channel string
	msg     interface{}
	err     error
}

func (f *fakePublisher) Publish(channel string, msg interface{}) error {
	f.channel = channel
	f.msg = msg
	return f.err
}

func TestPublishNewTokenCreated_ForwardsToChannelNewTokenCreated(t *testing.T) {
	pub := &fakePublisher{}
	b := New(pub)

	env := cache.NewTokenCache{Mint: "m1"}
	require.NoError(t, b.PublishNewTokenCreated(env))

	assert.Equal(t, cache.ChannelNewTokenCreated, pub.channel)
	assert.Equal(t, env, pub.msg)
}

func TestPublishTokenCexUpdated_ForwardsToChannelTokenCexUpdated(t *testing.T) {
	pub := &fakePublisher{}
	b := New(pub)

	env := cache.TokenCexUpdatedEnvelope{Mint: "m1", CexName: "binance"}
	require.NoError(t, b.PublishTokenCexUpdated(env))

	assert.Equal(t, cache.ChannelTokenCexUpdated, pub.channel)
	assert.Equal(t, env, pub.msg)
}

func TestPublish_WrapsPrimaryPublisherError(t *testing.T) {
	pub := &fakePublisher{err: assert.AnError}
	b := New(pub)

	err := b.PublishNewTokenCreated(cache.NewTokenCache{Mint: "m1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker: publish")
}

func TestClose_NoopWithoutKafkaMirror(t *testing.T) {
	b := New(&fakePublisher{})
	assert.NoError(t, b.Close())
}
