// Package fetcher implements spec §4.B: the two-stage signature/transaction
// pipeline (plus a decode & filter stage) that turns one address into a
// stream of decoded TransactionUpdate values. Grounded on the original
// pipeline/datasource/rpc_creator_analyzer.rs three-stage channel pipeline,
// reworked into the teacher's goroutine-plus-channel idiom (see
// datasync/chaindatafetcher/chaindata_fetcher.go's handleRequest select loop).
package fetcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/atomic"

	"github.com/rizilab/al-hafiz/internal/chaintypes"
	xlog "github.com/rizilab/al-hafiz/internal/log"
	"github.com/rizilab/al-hafiz/internal/rpcpool"
	"github.com/rizilab/al-hafiz/internal/watcherdecode"
)

var logger = xlog.NewModuleLogger(xlog.Fetcher)

// decodeCache memoizes decoded transactions by signature across every
// Fetcher instance in the process: a signature pulled into one crawl's
// transaction stage is never re-fetched by another crawl that reaches the
// same account (spec §4.B's dedupe is per-address; this widens it process
// wide since a signature is globally unique).
var decodeCache = fastcache.New(64 * 1024 * 1024)

// stageChannelCapacity is the bounded-channel capacity connecting the three
// pipeline stages, per spec §4.B.
const stageChannelCapacity = 1000

// SignatureInfo is one entry in the confirmed-signature listing.
type SignatureInfo struct {
	Signature chaintypes.Signature
	Slot      uint64
}

// Commitment mirrors the chain's confirmation-level parameter; opaque here.
type Commitment string

// ChainClient is the external collaborator boundary for raw RPC calls: the
// actual chain JSON-RPC SDK is out of scope per spec §1, so callers inject
// whatever client implements this narrow surface.
type ChainClient interface {
	ListSignatures(ctx context.Context, client *rpcpool.Client, addr chaintypes.Address, before, until *chaintypes.Signature, limit int) ([]SignatureInfo, error)
	GetTransaction(ctx context.Context, client *rpcpool.Client, sig chaintypes.Signature, commitment Commitment) (*watcherdecode.TransactionUpdate, error)
}

// ErrNotFound and ErrUnsupportedVersion are skip-not-retry errors per spec §4.B stage 2.
var (
	ErrNotFound           = errSentinel("fetcher: transaction not found")
	ErrUnsupportedVersion = errSentinel("fetcher: unsupported transaction version")
)

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

// Options configures one Run invocation.
type Options struct {
	Before                *chaintypes.Signature
	Until                 *chaintypes.Signature
	Filter                watcherdecode.Filter
	Commitment            Commitment
	MaxConcurrentRequests int
	MaxSignaturesToCheck  int
	MaxRetries            int
	BaseRetryDelay        time.Duration
	MaxRetryDelay         time.Duration
}

// Fetcher runs the three-stage pipeline for one address.
type Fetcher struct {
	pool   *rpcpool.Pool
	client ChainClient
	dedupe *lru.Cache // signature(string) -> struct{}, per-Fetcher dedupe set
}

// New builds a Fetcher. dedupeSize bounds this Fetcher's LRU used to skip
// re-fetching a signature it has already fetched (the teacher uses the same
// golang-lru dependency in common/cache.go); process-wide memoization is
// decodeCache's job.
func New(pool *rpcpool.Pool, client ChainClient, dedupeSize int) *Fetcher {
	if dedupeSize <= 0 {
		dedupeSize = 50_000
	}
	cache, _ := lru.New(dedupeSize)
	return &Fetcher{pool: pool, client: client, dedupe: cache}
}

// Result reports whether the address scan suffered a total pipeline failure
// (spec §7 PipelineError): the signature stage never managed to list
// signatures for addr at all, across every retry. Only meaningful after the
// channel Run returned has been fully drained (closed), since Failed is
// written from the signature-stage goroutine.
type Result struct {
	Failed *atomic.Bool
}

// Run streams decoded TransactionUpdate values for addr. The returned
// channel closes when: ctx is cancelled, the signature listing is empty, or
// retries are exhausted for every stage. Per-transaction errors are logged,
// not returned, matching spec §4.B ("no per-transaction error return;
// failures are skipped or retried internally"); a total failure to list
// signatures for addr is instead surfaced on the returned Result, since
// nothing downstream can distinguish "no history" from "every attempt
// failed" without it (spec §7 PipelineError).
func (f *Fetcher) Run(ctx context.Context, addr chaintypes.Address, opts Options) (<-chan watcherdecode.TransactionUpdate, *Result) {
	sigCh := make(chan SignatureInfo, stageChannelCapacity)
	rawCh := make(chan *watcherdecode.TransactionUpdate, stageChannelCapacity)
	out := make(chan watcherdecode.TransactionUpdate, stageChannelCapacity)
	result := &Result{Failed: atomic.NewBool(false)}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		defer close(sigCh)
		f.signatureStage(ctx, addr, opts, sigCh, result)
	}()

	go func() {
		defer wg.Done()
		defer close(rawCh)
		f.transactionStage(ctx, opts, sigCh, rawCh)
	}()

	go func() {
		defer wg.Done()
		defer close(out)
		f.decodeFilterStage(ctx, opts, rawCh, out)
	}()

	go func() { wg.Wait() }()
	return out, result
}

// signatureStage is spec §4.B stage 1. Every early return that leaves addr
// with zero signatures listed (as opposed to zero signatures found) marks
// result.Failed, since the caller otherwise has no way to tell "no history"
// from "RPC never answered".
func (f *Fetcher) signatureStage(ctx context.Context, addr chaintypes.Address, opts Options, out chan<- SignatureInfo, result *Result) {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		client, err := f.pool.Acquire(ctx, rpcpool.RoleSignatureFetcher)
		if err != nil {
			logger.Warn("signature_stage_acquire_failed", "address", addr.String(), "err", err)
			result.Failed.Store(true)
			return
		}

		sigs, err := f.client.ListSignatures(ctx, client, addr, opts.Before, opts.Until, opts.MaxSignaturesToCheck)
		if err == nil {
			// Oldest retained: spec asks for up to max_signatures_to_check,
			// oldest-first into stage 2.
			if len(sigs) > opts.MaxSignaturesToCheck && opts.MaxSignaturesToCheck > 0 {
				sigs = sigs[len(sigs)-opts.MaxSignaturesToCheck:]
			}
			for _, s := range sigs {
				select {
				case <-ctx.Done():
					return
				case out <- s:
				}
			}
			return
		}

		lastErr = err
		if !rpcpool.Classify(err) {
			logger.Warn("signature_stage_non_retryable", "address", addr.String(), "err", err)
			result.Failed.Store(true)
			return
		}
		delay := backoffForAttempt(opts, attempt)
		logger.Debug("signature_stage_retry", "address", addr.String(), "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	logger.Warn("signature_stage_retries_exhausted", "address", addr.String(), "err", lastErr)
	result.Failed.Store(true)
}

// transactionStage is spec §4.B stage 2, bounded by MaxConcurrentRequests.
func (f *Fetcher) transactionStage(ctx context.Context, opts Options, in <-chan SignatureInfo, out chan<- *watcherdecode.TransactionUpdate) {
	maxConcurrent := opts.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case sigInfo, ok := <-in:
			if !ok {
				break loop
			}
			key := sigInfo.Signature.String()
			if _, seen := f.dedupe.Get(key); seen {
				continue
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(si SignatureInfo) {
				defer wg.Done()
				defer func() { <-sem }()
				tx := f.fetchOneTransaction(ctx, opts, si)
				if tx != nil {
					f.dedupe.Add(key, struct{}{})
					select {
					case <-ctx.Done():
					case out <- tx:
					}
				}
			}(sigInfo)
		}
	}
	wg.Wait()
}

func (f *Fetcher) fetchOneTransaction(ctx context.Context, opts Options, sigInfo SignatureInfo) *watcherdecode.TransactionUpdate {
	cacheKey := []byte(sigInfo.Signature.String())
	if buf, ok := decodeCache.HasGet(nil, cacheKey); ok {
		var cached watcherdecode.TransactionUpdate
		if err := json.Unmarshal(buf, &cached); err == nil {
			return &cached
		}
	}

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		client, err := f.pool.Acquire(ctx, rpcpool.RoleTransactionFetcher)
		if err != nil {
			logger.Warn("transaction_stage_acquire_failed", "signature", sigInfo.Signature.String(), "err", err)
			return nil
		}
		tx, err := f.client.GetTransaction(ctx, client, sigInfo.Signature, opts.Commitment)
		if err == nil {
			if buf, merr := json.Marshal(tx); merr == nil {
				decodeCache.Set(cacheKey, buf)
			}
			return tx
		}
		if err == ErrNotFound || err == ErrUnsupportedVersion {
			logger.Debug("transaction_stage_skip", "signature", sigInfo.Signature.String(), "reason", err)
			return nil
		}
		if rpcpool.Classify(err) {
			delay := backoffForAttempt(opts, attempt)
			logger.Debug("transaction_stage_retry_backoff", "signature", sigInfo.Signature.String(), "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		// Non-retryable: flat 1s wait before the next attempt (spec §4.B).
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
	logger.Warn("transaction_stage_retries_exhausted", "signature", sigInfo.Signature.String())
	return nil
}

// decodeFilterStage is spec §4.B stage 3.
func (f *Fetcher) decodeFilterStage(ctx context.Context, opts Options, in <-chan *watcherdecode.TransactionUpdate, out chan<- watcherdecode.TransactionUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-in:
			if !ok {
				return
			}
			if tx.Failed || tx.DecodeFailed || tx.MissingMeta {
				continue
			}
			if !opts.Filter.Matches(*tx) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- *tx:
			}
		}
	}
}

func backoffForAttempt(opts Options, attempt int) time.Duration {
	base := opts.BaseRetryDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := opts.MaxRetryDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	return rpcpool.BackoffDelay(base, max, attempt)
}
