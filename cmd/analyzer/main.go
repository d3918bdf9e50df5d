// Command analyzer binds the Event Subscriber, the Work Queue Manager's
// recovery/reporting loops, and the per-token crawl pipeline, then runs
// until signal (spec §6). Grounded on the teacher's cmd/kcn/main.go
// (urfave/cli app + SIGINT/SIGTERM shutdown) and
// datasync/chaindatafetcher/chaindata_fetcher.go's subscribe-then-fan-out
// shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli"

	"github.com/rizilab/al-hafiz/internal/adminhttp"
	"github.com/rizilab/al-hafiz/internal/broker"
	"github.com/rizilab/al-hafiz/internal/chaintypes"
	"github.com/rizilab/al-hafiz/internal/config"
	"github.com/rizilab/al-hafiz/internal/crawl"
	"github.com/rizilab/al-hafiz/internal/fetcher"
	"github.com/rizilab/al-hafiz/internal/handler"
	xlog "github.com/rizilab/al-hafiz/internal/log"
	"github.com/rizilab/al-hafiz/internal/queue"
	"github.com/rizilab/al-hafiz/internal/rpcpool"
	"github.com/rizilab/al-hafiz/internal/storage/cache"
	"github.com/rizilab/al-hafiz/internal/storage/graph"
	"github.com/rizilab/al-hafiz/internal/storage/relational"
	"github.com/rizilab/al-hafiz/internal/subscriber"
	"github.com/rizilab/al-hafiz/internal/supervisor"
	"github.com/rizilab/al-hafiz/internal/transfer"
	"github.com/rizilab/al-hafiz/internal/watcherdecode"
)

var logger = xlog.NewModuleLogger(xlog.Analyzer)

func main() {
	app := cli.NewApp()
	app.Name = "analyzer"
	app.Usage = "subscribes to new_token_created, crawls wallet lineage, attributes tokens to CEXes"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Value: "Config.toml", Usage: "path to the TOML config file"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Crit("analyzer_startup_failed", "err", err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("analyzer: load config: %w", err)
	}
	xlog.SetLevel(cfg.Logging.Directive)

	redisCache := cache.New(cfg.StorageRedis)
	defer redisCache.Close()

	relStore, err := relational.Open(cfg.StoragePostgres)
	if err != nil {
		return fmt.Errorf("analyzer: open postgres: %w", err)
	}
	defer relStore.Close()

	graphWriter := graph.New(relStore.DB())
	pub := broker.New(redisCache)

	pool := rpcpool.New(cfg.RPC, rpcpool.BackoffConfig{
		Base:       cfg.CreatorAnalyzer.BaseRetryDelay(),
		Max:        cfg.CreatorAnalyzer.MaxRetryDelay(),
		MaxRetries: cfg.CreatorAnalyzer.MaxRetries,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	launcherBox := &lazyLauncher{}
	queueMgr := queue.New(redisCache, launcherBox, cfg.CreatorAnalyzer.MaxDepth)
	h := handler.New(relStore, graphWriter, redisCache, pub, queueMgr, cfg.CreatorAnalyzer.MaxDepth)

	orchestrator := newOrchestrator(cfg, pool, h, redisCache, relStore)
	h.SetComponent(handler.PipelineRunner(orchestrator.runPipeline))
	launcherBox.set(orchestrator)

	sup := supervisor.New(ctx, queueMgr, orchestrator, cfg.CreatorAnalyzer.MaxConcurrentRequests)
	go h.Run(ctx)
	go sup.Run(ctx)
	go queueMgr.RunRecoveryLoop(ctx)
	go queueMgr.RunReportingLoop(ctx)

	feed := make(chan cache.NewTokenCache, 1000)
	sub := subscriber.New(redisCache)
	go func() {
		if err := sub.Run(ctx, feed); err != nil {
			logger.Error("subscriber_exhausted", "err", err)
			cancel()
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case token := <-feed:
				sup.Offer(token)
			}
		}
	}()

	admin := adminhttp.New(redisCache)
	srv := &http.Server{Addr: ":8090", Handler: admin.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin_http_failed", "err", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info("shutdown_signal_received")
	cancel()
	sup.Shutdown()
	srv.Close()
	return nil
}

// lazyLauncher breaks the construction cycle between the queue.Manager
// (needs a Launcher) and the orchestrator (needs the queue.Manager via the
// handler's QueueManager dependency): it satisfies queue.Launcher
// immediately and forwards once the real orchestrator is set.
type lazyLauncher struct {
	mu       sync.Mutex
	launcher queue.Launcher
}

func (l *lazyLauncher) set(launcher queue.Launcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launcher = launcher
}

func (l *lazyLauncher) LaunchCrawl(ctx context.Context, entry queue.Entry) error {
	l.mu.Lock()
	launcher := l.launcher
	l.mu.Unlock()
	if launcher == nil {
		return fmt.Errorf("analyzer: launcher not yet wired")
	}
	return launcher.LaunchCrawl(ctx, entry)
}

// orchestrator wires the fetcher pipeline + transfer processor + handler
// together for one address, and implements both handler.PipelineRunner and
// supervisor.CrawlSpawner / queue.Launcher so every crawl entry point
// (fresh token, BFS level, recovered queue entry) runs through one place.
type orchestrator struct {
	cfg        *config.Config
	pool       *rpcpool.Pool
	handler    *handler.Handler
	cache      *cache.Cache
	relational *relational.Store
	client     fetcher.ChainClient
}

func newOrchestrator(cfg *config.Config, pool *rpcpool.Pool, h *handler.Handler, c *cache.Cache, rel *relational.Store) *orchestrator {
	return &orchestrator{cfg: cfg, pool: pool, handler: h, cache: c, relational: rel, client: noopChainClient{}}
}

func (o *orchestrator) runPipeline(ctx context.Context, mint string, address chaintypes.Address, depth int, state *crawl.State, g *crawl.Graph) {
	state.PushHistory(address)
	defer state.PopHistory()

	if !state.BeginProcessing(address) {
		return
	}

	f := fetcher.New(o.pool, o.client, 50_000)
	opts := fetcher.Options{
		Filter:                watcherdecode.Filter{},
		MaxConcurrentRequests: o.cfg.CreatorAnalyzer.MaxConcurrentRequests,
		MaxSignaturesToCheck:  o.cfg.CreatorAnalyzer.MaxSignaturesToCheck,
		MaxRetries:            o.cfg.CreatorAnalyzer.MaxRetries,
		BaseRetryDelay:        o.cfg.CreatorAnalyzer.BaseRetryDelay(),
		MaxRetryDelay:         o.cfg.CreatorAnalyzer.MaxRetryDelay(),
	}
	stream, result := f.Run(ctx, address, opts)

	proc := transfer.New(o.cfg.CreatorAnalyzer.MinTransferAmount, o.handler)
	proc.Run(ctx, state, stream)

	// Release in-flight tracking before TryClaimCompletion: it evaluates
	// FrontierLen/InFlightLen at the moment of its CAS, and this address's
	// own in-flight entry must already be gone or the check never passes
	// once BFS expansion has spawned any children (spec §8 invariant 2).
	state.EndProcessing(address)

	if result.Failed.Load() {
		o.handler.HandlePipelineFailure(ctx, state, mint, address)
		return
	}

	if state.TryClaimCompletion() {
		logger.Info("crawl_complete", "mint", mint, "crawl_id", state.CrawlID.String())
	}
}

// SpawnCrawl implements supervisor.CrawlSpawner: launches a brand-new crawl
// rooted at a freshly observed token's creator.
func (o *orchestrator) SpawnCrawl(ctx context.Context, token cache.NewTokenCache) {
	creator, err := chaintypes.HexToAddress(token.Creator)
	if err != nil {
		logger.Warn("spawn_crawl_bad_creator", "mint", token.Mint, "creator", token.Creator, "err", err)
		return
	}
	mintAddr, err := chaintypes.HexToAddress(token.Mint)
	if err != nil {
		logger.Warn("spawn_crawl_bad_mint", "mint", token.Mint, "err", err)
		return
	}

	// tokens row must exist before UpdateCexAttribution's bare UPDATE can
	// ever touch a row (spec §3/§4.G).
	if err := o.relational.UpsertToken(token.Mint, token.Name, token.Symbol, token.URI, creator, token.BondingCurve, token.CreatedAt, 0); err != nil {
		logger.Error("upsert_token_failed", "mint", token.Mint, "err", err)
	}

	state := crawl.NewState(mintAddr, creator, o.cfg.CreatorAnalyzer.MaxDepth)
	state.MarkVisited(creator, 0, []chaintypes.Address{creator})
	g := crawl.NewGraph()
	o.handler.BindGraph(g)
	o.runPipeline(ctx, token.Mint, creator, 0, state, g)
}

// LaunchCrawl implements queue.Launcher for recovered entries.
func (o *orchestrator) LaunchCrawl(ctx context.Context, entry queue.Entry) error {
	mintAddr, err := chaintypes.HexToAddress(entry.Mint)
	if err != nil {
		return err
	}
	maxDepth := entry.MaxDepth
	if maxDepth == 0 {
		maxDepth = o.cfg.CreatorAnalyzer.MaxDepth
	}

	// A recovered entry only carries mint/account/depth; the token row was
	// already upserted when the token was first observed (SpawnCrawl), but a
	// process restart can recover an entry whose tokens row never landed, so
	// backfill it here from the cached record when one is still present.
	if rec, found, err := o.cache.GetToken(entry.Mint); err != nil {
		logger.Warn("launch_crawl_token_lookup_failed", "mint", entry.Mint, "err", err)
	} else if found {
		if err := o.relational.UpsertToken(rec.Mint, rec.Name, rec.Symbol, rec.URI, entry.Account, rec.BondingCurve, rec.CreatedAt, 0); err != nil {
			logger.Error("upsert_token_failed", "mint", entry.Mint, "err", err)
		}
	}

	state := crawl.NewState(mintAddr, entry.Account, maxDepth)
	// Carry the entry's retry_count so a further failure is recorded one
	// higher and the recovery loop can dead-letter it.
	for i := 0; i < entry.RetryCount; i++ {
		state.IncrementRetry()
	}
	state.MarkVisited(entry.Account, 0, []chaintypes.Address{entry.Account})
	g := crawl.NewGraph()
	o.handler.BindGraph(g)
	o.runPipeline(ctx, entry.Mint, entry.Account, 0, state, g)
	return nil
}

// noopChainClient is the external-collaborator seam of spec §1: the actual
// chain JSON-RPC SDK is out of scope, so the analyzer binary wires a stub
// that always reports no signatures until a real client is supplied.
type noopChainClient struct{}

func (noopChainClient) ListSignatures(ctx context.Context, client *rpcpool.Client, addr chaintypes.Address, before, until *chaintypes.Signature, limit int) ([]fetcher.SignatureInfo, error) {
	return nil, nil
}

func (noopChainClient) GetTransaction(ctx context.Context, client *rpcpool.Client, sig chaintypes.Signature, commitment fetcher.Commitment) (*watcherdecode.TransactionUpdate, error) {
	return nil, fetcher.ErrNotFound
}
