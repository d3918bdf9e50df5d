// Package queue implements the Work Queue Manager of spec §4.F: two durable
// FIFO lists (failed_accounts, unprocessed_accounts) backed by redis, a 10s
// recovery loop that relaunches crawls, and a 5s reporting loop. Grounded on
// the original engine/baseer/task.rs overflow/recovery policy (named
// explicitly by spec §9's open question), reworked into the teacher's
// ticker-driven background-loop idiom (see
// datasync/chaindatafetcher/chaindata_fetcher.go's periodic checkpoint
// routines).
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/rizilab/al-hafiz/internal/chaintypes"
	xlog "github.com/rizilab/al-hafiz/internal/log"
	"github.com/rizilab/al-hafiz/internal/storage/cache"
)

var logger = xlog.NewModuleLogger(xlog.Queue)

const (
	keyFailedAccounts       = "failed_accounts"
	keyUnprocessedAccounts  = "unprocessed_accounts"
	recoveryInterval        = 10 * time.Second
	reportInterval          = 5 * time.Second
	maxRetriesBeforeDeadLetter = 3
	warnTotalThreshold      = 1000
	warnFailedThreshold     = 100
)

// Entry is one queued account (spec §4.F): enough to relaunch a crawl
// without the original new_token_created payload.
type Entry struct {
	Mint       string             `json:"mint"`
	Account    chaintypes.Address `json:"account"`
	MaxDepth   int                `json:"max_depth"`
	RetryCount int                `json:"retry_count"`
}

// Launcher relaunches a crawl for a recovered entry (spec §4.F steps 1-2).
// Returning an error marks the relaunch as failed for re-queue purposes.
type Launcher interface {
	LaunchCrawl(ctx context.Context, entry Entry) error
}

// Manager owns the two durable lists and their background loops.
type Manager struct {
	cache    *cache.Cache
	launcher Launcher
	maxDepth int
}

// New builds a Manager. maxDepth is stored on entries this Manager enqueues
// and fills in the crawl depth of a recovered entry that carries none.
func New(c *cache.Cache, launcher Launcher, maxDepth int) *Manager {
	return &Manager{cache: c, launcher: launcher, maxDepth: maxDepth}
}

// MarkFailed appends entry to failed_accounts with retryCount recorded,
// implementing handler.QueueManager (spec §7 PipelineError).
func (m *Manager) MarkFailed(ctx context.Context, mint string, address chaintypes.Address, retryCount int) error {
	return m.cache.RPush(keyFailedAccounts, Entry{Mint: mint, Account: address, MaxDepth: m.maxDepth, RetryCount: retryCount})
}

// MarkUnprocessed appends entry to unprocessed_accounts without touching
// retry_count, implementing handler.QueueManager (spec §7 BackpressureError).
func (m *Manager) MarkUnprocessed(ctx context.Context, mint string, address chaintypes.Address) error {
	return m.cache.RPush(keyUnprocessedAccounts, Entry{Mint: mint, Account: address, MaxDepth: m.maxDepth})
}

// EnqueueUnprocessed is the Supervisor's overflow-prevention path (spec
// §4.H): persist before forwarding when the feed channel nears capacity.
func (m *Manager) EnqueueUnprocessed(entry Entry) error {
	return m.cache.RPush(keyUnprocessedAccounts, entry)
}

// RunRecoveryLoop fires every 10s until ctx is cancelled (spec §4.F).
func (m *Manager) RunRecoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recoverOnce(ctx)
		}
	}
}

func (m *Manager) recoverOnce(ctx context.Context) {
	if entry, ok, err := m.popFailed(); err != nil {
		logger.Warn("recovery_pop_failed_accounts_error", "err", err)
	} else if ok {
		m.recoverFailedEntry(ctx, entry)
		return
	}

	if entry, ok, err := m.popUnprocessed(); err != nil {
		logger.Warn("recovery_pop_unprocessed_accounts_error", "err", err)
	} else if ok {
		m.recoverUnprocessedEntry(ctx, entry)
	}
}

func (m *Manager) recoverFailedEntry(ctx context.Context, entry Entry) {
	if entry.RetryCount >= maxRetriesBeforeDeadLetter {
		logger.Warn("dead_lettered", "mint", entry.Mint, "account", entry.Account.String(), "retry_count", entry.RetryCount)
		return
	}
	if entry.MaxDepth == 0 {
		entry.MaxDepth = m.maxDepth
	}
	if err := m.launcher.LaunchCrawl(ctx, entry); err != nil {
		entry.RetryCount++
		if rerr := m.cache.RPush(keyFailedAccounts, entry); rerr != nil {
			logger.Error("recovery_requeue_failed_failed", "mint", entry.Mint, "err", rerr)
		}
	}
}

func (m *Manager) recoverUnprocessedEntry(ctx context.Context, entry Entry) {
	if entry.MaxDepth == 0 {
		entry.MaxDepth = m.maxDepth
	}
	if err := m.launcher.LaunchCrawl(ctx, entry); err != nil {
		if rerr := m.cache.RPush(keyFailedAccounts, entry); rerr != nil {
			logger.Error("recovery_move_to_failed_failed", "mint", entry.Mint, "err", rerr)
		}
	}
}

func (m *Manager) popFailed() (Entry, bool, error) {
	return m.pop(keyFailedAccounts)
}

func (m *Manager) popUnprocessed() (Entry, bool, error) {
	return m.pop(keyUnprocessedAccounts)
}

func (m *Manager) pop(key string) (Entry, bool, error) {
	data, ok, err := m.cache.LPop(key)
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "queue: pop %s", key)
	}
	if !ok {
		return Entry{}, false, nil
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, errors.Wrapf(err, "queue: decode %s entry", key)
	}
	return entry, true, nil
}

// RunReportingLoop fires every 5s until ctx is cancelled, warning when
// either queue grows past its threshold (spec §4.F).
func (m *Manager) RunReportingLoop(ctx context.Context) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reportOnce()
		}
	}
}

func (m *Manager) reportOnce() {
	failedLen, err := m.cache.LLen(keyFailedAccounts)
	if err != nil {
		logger.Warn("report_llen_failed_accounts_error", "err", err)
		return
	}
	unprocessedLen, err := m.cache.LLen(keyUnprocessedAccounts)
	if err != nil {
		logger.Warn("report_llen_unprocessed_accounts_error", "err", err)
		return
	}
	total := failedLen + unprocessedLen
	if total > warnTotalThreshold || failedLen > warnFailedThreshold {
		logger.Warn("queue_depth_high", "failed", failedLen, "unprocessed", unprocessedLen, "total", total)
	}
}
