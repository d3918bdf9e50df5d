// Package supervisor implements spec §4.H: wires the new_token_created feed
// into a bounded channel, spills overflow into unprocessed_accounts once
// the channel nears capacity, bounds in-flight crawl concurrency, and owns
// the cancellation tree. The overflow policy is grounded explicitly on the
// original engine/baseer/task.rs, named by spec §9's open question as the
// canonical behavior over the alternate inline-buffered implementation.
// Reworked into the teacher's worker-pool-plus-root-context idiom.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rizilab/al-hafiz/internal/chaintypes"
	xlog "github.com/rizilab/al-hafiz/internal/log"
	"github.com/rizilab/al-hafiz/internal/queue"
	"github.com/rizilab/al-hafiz/internal/storage/cache"
)

var logger = xlog.NewModuleLogger(xlog.Supervisor)

// feedCapacity is the bounded channel capacity of spec §4.H.
const feedCapacity = 1000

// overflowSafetyMargin: once the channel's free capacity drops below this
// fraction of feedCapacity (~90% full), incoming tokens are additionally
// persisted to unprocessed_accounts before being forwarded (spec §4.H).
const overflowSafetyMargin = 0.10

// quiescenceWait is how long the Supervisor waits after cancellation before
// exiting (spec §4.H).
const quiescenceWait = 500 * time.Millisecond

// CrawlSpawner launches the per-token crawl pipeline rooted at token.
type CrawlSpawner interface {
	SpawnCrawl(ctx context.Context, token cache.NewTokenCache)
}

// Supervisor owns the root cancellation token and the bounded feed channel.
type Supervisor struct {
	queue   *queue.Manager
	spawner CrawlSpawner

	maxConcurrentCrawls int
	feed                chan cache.NewTokenCache

	rootCtx    context.Context
	cancelRoot context.CancelFunc
}

// New builds a Supervisor. parent is typically context.Background(); the
// Supervisor derives its own root from it so Shutdown can cancel everything
// descended from this process without touching unrelated contexts.
func New(parent context.Context, q *queue.Manager, spawner CrawlSpawner, maxConcurrentCrawls int) *Supervisor {
	rootCtx, cancel := context.WithCancel(parent)
	return &Supervisor{
		queue:               q,
		spawner:             spawner,
		maxConcurrentCrawls: maxConcurrentCrawls,
		feed:                make(chan cache.NewTokenCache, feedCapacity),
		rootCtx:             rootCtx,
		cancelRoot:          cancel,
	}
}

// Offer attempts to enqueue token onto the feed channel. When the channel is
// within the overflow safety margin of full, token is first persisted to
// unprocessed_accounts so a subsequent burst cannot drop it if the feed
// later fills completely (spec §4.H).
func (s *Supervisor) Offer(token cache.NewTokenCache) {
	if s.nearCapacity() {
		entry := queue.Entry{Mint: token.Mint, Account: creatorAddress(token)}
		if err := s.queue.EnqueueUnprocessed(entry); err != nil {
			logger.Error("overflow_persist_failed", "mint", token.Mint, "err", err)
		}
	}
	select {
	case s.feed <- token:
	case <-s.rootCtx.Done():
	}
}

func (s *Supervisor) nearCapacity() bool {
	used := len(s.feed)
	threshold := int(float64(feedCapacity) * (1 - overflowSafetyMargin))
	return used >= threshold
}

// Run drains the feed channel, bounding concurrent crawls by
// maxConcurrentCrawls, until the root is cancelled; it then awaits the
// quiescence period before returning (spec §4.H).
func (s *Supervisor) Run(ctx context.Context) {
	sem := make(chan struct{}, s.maxConcurrentCrawls)
	var wg sync.WaitGroup

loop:
	for {
		select {
		case <-s.rootCtx.Done():
			break loop
		case <-ctx.Done():
			s.cancelRoot()
			break loop
		case token := <-s.feed:
			sem <- struct{}{}
			wg.Add(1)
			go func(t cache.NewTokenCache) {
				defer wg.Done()
				defer func() { <-sem }()
				s.spawner.SpawnCrawl(s.rootCtx, t)
			}(token)
		}
	}

	wg.Wait()
	time.Sleep(quiescenceWait)
}

// Shutdown cancels the root token, cascading to every crawl's child
// cancellation. The root is otherwise cancelled only through the parent
// context passed to New or Run; a full handler mailbox or a pipeline error
// re-queues the work and does not cancel the root.
func (s *Supervisor) Shutdown() { s.cancelRoot() }

// creatorAddress extracts the address overflow persistence needs from a
// NewTokenCache payload, falling back to the zero address on a malformed
// creator field rather than dropping the overflow-persist write entirely.
func creatorAddress(token cache.NewTokenCache) chaintypes.Address {
	addr, err := chaintypes.HexToAddress(token.Creator)
	if err != nil {
		logger.Warn("overflow_persist_bad_creator_address", "mint", token.Mint, "creator", token.Creator, "err", err)
		return chaintypes.ZeroAddress
	}
	return addr
}
