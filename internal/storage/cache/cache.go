// Package cache implements the redis-backed key/value + pub/sub surface of
// spec §4.G: token records, bfs_connection_graph/developer_connection_graph
// snapshots, cex metadata, and the new_token_created/token_cex_updated
// channels. Grounded on the teacher's go.mod direct dependency on
// github.com/go-redis/redis/v7, using the same Cmdable-style client calls
// seen in the pack's watcher.go reference file.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v7"
	"github.com/pkg/errors"

	"github.com/rizilab/al-hafiz/internal/config"
	"github.com/rizilab/al-hafiz/internal/crawl"
	xlog "github.com/rizilab/al-hafiz/internal/log"
)

var logger = xlog.NewModuleLogger(xlog.Storage)

// Channel names from spec §4.G/§4.H.
const (
	ChannelNewTokenCreated = "new_token_created"
	ChannelTokenCexUpdated = "token_cex_updated"
)

// TokenRecord mirrors spec §3's TokenRecord for the cache's {mint} key.
type TokenRecord struct {
	Mint         string    `json:"mint"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	URI          string    `json:"uri"`
	Creator      string    `json:"creator"`
	BondingCurve string    `json:"bonding_curve,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	CexSources   []string  `json:"cex_sources,omitempty"`
	CexUpdatedAt *time.Time `json:"cex_updated_at,omitempty"`
}

// TokenCexUpdatedEnvelope is the payload published on token_cex_updated
// (spec §4.E step 6).
type TokenCexUpdatedEnvelope struct {
	Mint         string    `json:"mint"`
	CexName      string    `json:"cex_name"`
	CexAddress   string    `json:"cex_address"`
	Creator      string    `json:"creator"`
	CexUpdatedAt time.Time `json:"cex_updated_at"`
	NodeCount    int       `json:"node_count"`
	EdgeCount    int       `json:"edge_count"`
}

// NewTokenCache is the payload read off new_token_created (spec §6 inputs).
type NewTokenCache struct {
	Mint         string    `json:"mint"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	URI          string    `json:"uri"`
	Creator      string    `json:"creator"`
	BondingCurve string    `json:"bonding_curve,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Cache wraps one redis client for key/value, queue, and pub/sub use.
type Cache struct {
	client *redis.Client
}

// New dials redis using cfg.
func New(cfg config.RedisConfig) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return &Cache{client: client}
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error { return c.client.Close() }

// PutToken writes the token record under key {mint} (spec §4.G).
func (c *Cache) PutToken(mint string, rec TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "cache: marshal token record")
	}
	if err := c.client.Set(mint, data, 0).Err(); err != nil {
		return errors.Wrap(err, "cache: put token")
	}
	return nil
}

// GetToken reads the token record at key {mint}, ok=false if absent.
func (c *Cache) GetToken(mint string) (TokenRecord, bool, error) {
	data, err := c.client.Get(mint).Bytes()
	if err == redis.Nil {
		return TokenRecord{}, false, nil
	}
	if err != nil {
		return TokenRecord{}, false, errors.Wrap(err, "cache: get token")
	}
	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return TokenRecord{}, false, errors.Wrap(err, "cache: unmarshal token record")
	}
	return rec, true, nil
}

// PutBfsLevelGraph persists a level snapshot under
// bfs_connection_graph:{mint}:{depth} (spec §4.E ProcessBfsLevel, logged-only
// on failure per the caller).
func (c *Cache) PutBfsLevelGraph(mint string, depth int, g *crawl.Graph) error {
	data, err := json.Marshal(g)
	if err != nil {
		return errors.Wrap(err, "cache: marshal bfs level graph")
	}
	key := fmt.Sprintf("bfs_connection_graph:%s:%d", mint, depth)
	return errors.Wrap(c.client.Set(key, data, 0).Err(), "cache: put bfs level graph")
}

// PutDeveloperConnectionGraph persists the full crawl graph under
// developer_connection_graph:{mint} (spec §4.E step 5).
func (c *Cache) PutDeveloperConnectionGraph(mint string, g *crawl.Graph) error {
	data, err := json.Marshal(g)
	if err != nil {
		return errors.Wrap(err, "cache: marshal developer connection graph")
	}
	key := "developer_connection_graph:" + mint
	return errors.Wrap(c.client.Set(key, data, 0).Err(), "cache: put developer connection graph")
}

// PutCex writes cex:{cex_address} metadata (spec §4.G).
func (c *Cache) PutCex(cexAddress, name string) error {
	key := "cex:" + cexAddress
	return errors.Wrap(c.client.Set(key, name, 0).Err(), "cache: put cex")
}

// Publish publishes msg (JSON-encoded) on channel.
func (c *Cache) Publish(channel string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "cache: marshal publish payload for %s", channel)
	}
	if err := c.client.Publish(channel, data).Err(); err != nil {
		return errors.Wrapf(err, "cache: publish %s", channel)
	}
	return nil
}

// Subscribe returns a redis subscription for channel; callers read
// sub.Channel() and must call sub.Close() when done (spec §4.I).
func (c *Cache) Subscribe(channel string) *redis.PubSub {
	return c.client.Subscribe(channel)
}

// RPush appends value to the durable list at key (spec §4.F enqueue).
func (c *Cache) RPush(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "cache: marshal rpush payload for %s", key)
	}
	return errors.Wrapf(c.client.RPush(key, data).Err(), "cache: rpush %s", key)
}

// LPop pops the oldest entry at key, ok=false if the list is empty
// (spec §4.F dequeue).
func (c *Cache) LPop(key string) (data []byte, ok bool, err error) {
	data, err = c.client.LPop(key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "cache: lpop %s", key)
	}
	return data, true, nil
}

// LLen reports the current length of the durable list at key
// (spec §4.F reporting loop).
func (c *Cache) LLen(key string) (int64, error) {
	n, err := c.client.LLen(key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "cache: llen %s", key)
	}
	return n, nil
}
