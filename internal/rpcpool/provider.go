// Package rpcpool implements spec §4.A: a multi-provider RPC fan-out layer
// with per-provider token-bucket rate limiting, role-based routing, and
// round-robin selection. Grounded on the original config/rpc.rs
// (RpcConfig::get_next_client_for_role), reworked into the teacher's
// goroutine-and-channel idiom with go.uber.org/atomic cursors in place of
// the original's AtomicUsize.
package rpcpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/rizilab/al-hafiz/internal/config"
	xlog "github.com/rizilab/al-hafiz/internal/log"
)

var logger = xlog.NewModuleLogger(xlog.RPCPool)

// Role is the class of RPC calls a provider may serve (spec §3 ProviderState.role).
type Role string

const (
	RoleSignatureFetcher  Role = "signature_fetcher"
	RoleTransactionFetcher Role = "transaction_fetcher"
	RoleWebSocketProvider  Role = "websocket_provider"
	RoleBoth               Role = "both"
	RoleAll                Role = "all"
)

// matches implements the role filter of spec §4.A: All matches anything,
// Both matches SignatureFetcher/TransactionFetcher, otherwise exact match.
// WebSocketProvider is never returned on the HTTP acquire path.
func (providerRole Role) matches(requested Role) bool {
	if requested == RoleWebSocketProvider {
		return providerRole == RoleWebSocketProvider
	}
	switch providerRole {
	case RoleAll:
		return true
	case RoleBoth:
		return requested == RoleSignatureFetcher || requested == RoleTransactionFetcher
	default:
		return providerRole == requested
	}
}

// Client is the single-use handle returned by Acquire: authorized for
// exactly one request against the named provider.
type Client struct {
	ProviderName string
	HTTPURL      string
	WSURL        string
}

// providerState tracks the fixed-window token bucket for one provider
// (spec §3 ProviderState: window_start, issued_in_window).
type providerState struct {
	cfg config.RPCProvider

	mu             sync.Mutex
	windowStart    time.Time
	issuedInWindow int
}

func (p *providerState) tryAcquire(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.windowStart) >= time.Second {
		p.windowStart = now
		p.issuedInWindow = 0
	}
	if p.issuedInWindow < p.cfg.RateLimit {
		p.issuedInWindow++
		return true
	}
	return false
}

func (p *providerState) httpURL() string {
	if p.cfg.APIKey == "" {
		return fmt.Sprintf("https://%s", p.cfg.URL)
	}
	if p.cfg.Name == "helius" {
		return fmt.Sprintf("https://%s/?api-key=%s", p.cfg.URL, p.cfg.APIKey)
	}
	return fmt.Sprintf("https://%s/%s", p.cfg.URL, p.cfg.APIKey)
}

func (p *providerState) wsURL() string {
	if p.cfg.APIKey == "" {
		return fmt.Sprintf("wss://%s", p.cfg.URL)
	}
	if p.cfg.Name == "helius" {
		return fmt.Sprintf("wss://%s/?api-key=%s", p.cfg.URL, p.cfg.APIKey)
	}
	return fmt.Sprintf("wss://%s/%s", p.cfg.URL, p.cfg.APIKey)
}

// BackoffConfig drives the exhaustion path of spec §4.A: base * 3^attempt,
// capped at max, +/-25% jitter, up to maxRetries attempts.
type BackoffConfig struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// Pool hands out single-use Client values, respecting per-provider rate
// limits and round-robin fairness across two shared cursors (one per role
// family, as required by spec §4.A).
type Pool struct {
	providers []*providerState
	backoff   BackoffConfig

	sigCursor *atomic.Uint64
	txCursor  *atomic.Uint64

	sleep func(time.Duration) // overridable in tests
}

// New builds a Pool from the rpc.providers[] config section.
func New(cfg config.RPCConfig, backoff BackoffConfig) *Pool {
	providers := make([]*providerState, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, &providerState{cfg: p, windowStart: time.Now()})
	}
	return &Pool{
		providers: providers,
		backoff:   backoff,
		sigCursor: atomic.NewUint64(0),
		txCursor:  atomic.NewUint64(0),
		sleep:     time.Sleep,
	}
}

func (pool *Pool) eligibleFor(requested Role) []*providerState {
	if requested == RoleWebSocketProvider {
		out := make([]*providerState, 0, 1)
		for _, p := range pool.providers {
			if Role(p.cfg.Role) == RoleWebSocketProvider || Role(p.cfg.Role) == RoleAll {
				out = append(out, p)
			}
		}
		return out
	}
	out := make([]*providerState, 0, len(pool.providers))
	for _, p := range pool.providers {
		if Role(p.cfg.Role).matches(requested) {
			out = append(out, p)
		}
	}
	return out
}

func (pool *Pool) cursorFor(requested Role) *atomic.Uint64 {
	if requested == RoleTransactionFetcher {
		return pool.txCursor
	}
	return pool.sigCursor
}

// Acquire returns a client authorized for exactly one request against an
// eligible provider for role, blocking (via sleeps) while every eligible
// provider is rate-limited, and failing after backoff.MaxRetries full
// sweeps find no providers configured for the role at all.
func (pool *Pool) Acquire(ctx context.Context, requested Role) (*Client, error) {
	if requested == RoleWebSocketProvider {
		providers := pool.eligibleFor(requested)
		if len(providers) == 0 {
			return nil, fmt.Errorf("rpcpool: no websocket provider configured")
		}
		p := providers[0]
		return &Client{ProviderName: p.cfg.Name, HTTPURL: p.httpURL(), WSURL: p.wsURL()}, nil
	}

	providers := pool.eligibleFor(requested)
	if len(providers) == 0 {
		return nil, pool.failAfterBackoff(ctx, requested)
	}

	cursor := pool.cursorFor(requested)
	for {
		for attempt := 0; attempt < len(providers); attempt++ {
			idx := int(cursor.Add(1)-1) % len(providers)
			p := providers[idx]
			if p.tryAcquire(time.Now()) {
				return &Client{ProviderName: p.cfg.Name, HTTPURL: p.httpURL()}, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		logger.Debug("all_providers_rate_limited", "role", string(requested), "waiting", "3s")
		pool.sleep(3 * time.Second)
	}
}

// failAfterBackoff is reached when the role has no eligible providers at
// all: exponential backoff base*3^attempt, capped, +/-25% jitter, then give
// up after MaxRetries.
func (pool *Pool) failAfterBackoff(ctx context.Context, requested Role) error {
	for attempt := 0; attempt < pool.backoff.MaxRetries; attempt++ {
		delay := backoffDelay(pool.backoff.Base, pool.backoff.Max, attempt)
		logger.Warn("no_providers_for_role", "role", string(requested), "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			pool.sleep(delay)
		}
	}
	return fmt.Errorf("rpcpool: no providers configured for role %s after %d retries", requested, pool.backoff.MaxRetries)
}

// WSURLFor returns the websocket URL to use per spec §4.A: a dedicated
// WebSocketProvider/All entry if present, otherwise the first provider,
// logged as a fallback.
func (pool *Pool) WSURLFor() (string, error) {
	for _, p := range pool.providers {
		if Role(p.cfg.Role) == RoleWebSocketProvider {
			return p.wsURL(), nil
		}
	}
	for _, p := range pool.providers {
		if Role(p.cfg.Role) == RoleAll {
			return p.wsURL(), nil
		}
	}
	if len(pool.providers) == 0 {
		return "", fmt.Errorf("rpcpool: no providers configured")
	}
	logger.Warn("no_dedicated_ws_provider_falling_back_to_first")
	return pool.providers[0].wsURL(), nil
}
