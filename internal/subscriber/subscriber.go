// Package subscriber implements the Event Subscriber of spec §4.I:
// subscribe to new_token_created, deserialize payloads, forward them, and
// retry subscribe failures with exponential backoff. Grounded on the
// teacher's EventBroker.Subscribe call shape
// (datasync/chaindatafetcher/common/common.go), reworked to redis pub/sub.
package subscriber

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/go-redis/redis/v7"
	"github.com/pkg/errors"

	xlog "github.com/rizilab/al-hafiz/internal/log"
	"github.com/rizilab/al-hafiz/internal/storage/cache"
)

var logger = xlog.NewModuleLogger(xlog.Subscriber)

const maxSubscribeRetries = 5

// Subscriber retries its redis subscription with exponential backoff and
// forwards decoded NewTokenCache payloads to out.
type Subscriber struct {
	cache *cache.Cache
}

// New wraps a cache/pubsub client.
func New(c *cache.Cache) *Subscriber { return &Subscriber{cache: c} }

// Run subscribes to new_token_created and forwards every payload to out
// until ctx is cancelled. On subscribe failure it retries up to 5 times
// with 100*2^attempt ms backoff (spec §4.I) before giving up.
func (s *Subscriber) Run(ctx context.Context, out chan<- cache.NewTokenCache) error {
	var lastErr error
	for attempt := 0; attempt < maxSubscribeRetries; attempt++ {
		sub := s.cache.Subscribe(cache.ChannelNewTokenCreated)
		if _, err := sub.Receive(); err != nil {
			lastErr = err
			sub.Close()
			delay := time.Duration(100*(1<<uint(attempt))) * time.Millisecond
			logger.Warn("subscribe_failed_retrying", "attempt", attempt, "delay", delay, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		s.forward(ctx, sub, out)
		sub.Close()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		// channel closed/errored mid-stream: reattempt from scratch.
		lastErr = errors.New("subscriber: subscription channel closed")
	}
	return errors.Wrap(lastErr, "subscriber: exhausted retries")
}

func (s *Subscriber) forward(ctx context.Context, sub *redis.PubSub, out chan<- cache.NewTokenCache) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			payload, err := decodePayload(msg.Payload)
			if err != nil {
				logger.Warn("decode_new_token_created_failed", "err", err)
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- payload:
			}
		}
	}
}

// decodePayload unmarshals one new_token_created message body, split out of
// forward so the decode step can be tested without a redis subscription.
func decodePayload(raw string) (cache.NewTokenCache, error) {
	var payload cache.NewTokenCache
	err := json.Unmarshal([]byte(raw), &payload)
	return payload, err
}
