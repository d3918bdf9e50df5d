// Package config loads the TOML configuration described in spec §6, using
// the teacher's own TOML codec (github.com/naoina/toml) rather than a
// hand-rolled parser.
package config

import (
	"os"
	"time"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

// ProviderRole mirrors spec §3 ProviderState.role.
type ProviderRole string

const (
	RoleSignatureFetcher ProviderRole = "signature_fetcher"
	RoleTransactionFetcher ProviderRole = "transaction_fetcher"
	RoleWebSocketProvider  ProviderRole = "websocket_provider"
	RoleBoth               ProviderRole = "both"
	RoleAll                ProviderRole = "all"
)

// RPCProvider is one entry of rpc.providers[] (spec §6).
type RPCProvider struct {
	Name        string       `toml:"name"`
	URL         string       `toml:"url"`
	APIKey      string       `toml:"api_key"`
	RateLimit   int          `toml:"rate_limit"`
	Role        ProviderRole `toml:"role"`
}

// RPCConfig is the rpc.* section.
type RPCConfig struct {
	Providers         []RPCProvider `toml:"providers"`
	FallbackTimeoutMs int64         `toml:"fallback_timeout_ms"`
}

func (c RPCConfig) FallbackTimeout() time.Duration {
	return time.Duration(c.FallbackTimeoutMs) * time.Millisecond
}

// CreatorAnalyzerConfig is the creator_analyzer.* section (spec §6).
type CreatorAnalyzerConfig struct {
	MaxDepth              int     `toml:"max_depth"`
	MaxConcurrentRequests int     `toml:"max_concurrent_requests"`
	MaxSignaturesToCheck  int     `toml:"max_signatures_to_check"`
	MinTransferAmount     float64 `toml:"min_transfer_amount"`
	BaseRetryDelayMs      int64   `toml:"base_retry_delay_ms"`
	MaxRetryDelayMs       int64   `toml:"max_retry_delay_ms"`
	MaxRetries            int     `toml:"max_retries"`
}

func (c CreatorAnalyzerConfig) BaseRetryDelay() time.Duration {
	return time.Duration(c.BaseRetryDelayMs) * time.Millisecond
}

func (c CreatorAnalyzerConfig) MaxRetryDelay() time.Duration {
	return time.Duration(c.MaxRetryDelayMs) * time.Millisecond
}

// PostgresConfig is the storage_postgres.* section.
type PostgresConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	Database        string `toml:"database"`
	SSLMode         string `toml:"ssl_mode"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
}

// RedisConfig is the storage_redis.* section.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	PoolSize int    `toml:"pool_size"`
}

// LoggingConfig is the logging.* section.
type LoggingConfig struct {
	Directive string `toml:"directive"`
}

// DiscordConfig is the discord.* section — consumed only partially, the
// webhook notifier itself is an external collaborator per spec §1.
type DiscordConfig struct {
	WebhookURL string `toml:"webhook_url"`
	Enabled    bool   `toml:"enabled"`
}

// Config is the root of Config.toml.
type Config struct {
	StoragePostgres PostgresConfig        `toml:"storage_postgres"`
	StorageRedis    RedisConfig           `toml:"storage_redis"`
	RPC             RPCConfig             `toml:"rpc"`
	CreatorAnalyzer CreatorAnalyzerConfig `toml:"creator_analyzer"`
	Logging         LoggingConfig         `toml:"logging"`
	Discord         DiscordConfig         `toml:"discord"`
}

// Load reads and decodes path using naoina/toml, then fills in the defaults
// the original implementation relies on when a key is absent.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: open %s", path)
	}
	defer f.Close()

	var cfg Config
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "config: decode %s", path)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CreatorAnalyzer.MaxDepth == 0 {
		c.CreatorAnalyzer.MaxDepth = 5
	}
	if c.CreatorAnalyzer.MaxConcurrentRequests == 0 {
		c.CreatorAnalyzer.MaxConcurrentRequests = 20
	}
	if c.CreatorAnalyzer.MaxSignaturesToCheck == 0 {
		c.CreatorAnalyzer.MaxSignaturesToCheck = 1000
	}
	if c.CreatorAnalyzer.BaseRetryDelayMs == 0 {
		c.CreatorAnalyzer.BaseRetryDelayMs = 500
	}
	if c.CreatorAnalyzer.MaxRetryDelayMs == 0 {
		c.CreatorAnalyzer.MaxRetryDelayMs = 30_000
	}
	if c.CreatorAnalyzer.MaxRetries == 0 {
		c.CreatorAnalyzer.MaxRetries = 5
	}
	if c.RPC.FallbackTimeoutMs == 0 {
		c.RPC.FallbackTimeoutMs = 5000
	}
	if c.StorageRedis.PoolSize == 0 {
		c.StorageRedis.PoolSize = 10
	}
	if c.StoragePostgres.MaxOpenConns == 0 {
		c.StoragePostgres.MaxOpenConns = 20
	}
	if c.StoragePostgres.MaxIdleConns == 0 {
		c.StoragePostgres.MaxIdleConns = 5
	}
}
