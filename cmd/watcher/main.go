// Command watcher runs until signal (spec §6). The chain-event decoder
// itself is an external collaborator per spec §1, so this binary wires
// config, the redis cache, and the websocket provider selection only; its
// subscription loop waits for shutdown and publishes no new_token_created
// events. Grounded on the teacher's cmd/kcn/main.go startup/shutdown shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/rizilab/al-hafiz/internal/config"
	xlog "github.com/rizilab/al-hafiz/internal/log"
	"github.com/rizilab/al-hafiz/internal/rpcpool"
	"github.com/rizilab/al-hafiz/internal/storage/cache"
)

var logger = xlog.NewModuleLogger(xlog.Watcher)

func main() {
	app := cli.NewApp()
	app.Name = "watcher"
	app.Usage = "subscribes to block/transaction data and publishes new_token_created"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Value: "Config.toml", Usage: "path to the TOML config file"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Crit("watcher_startup_failed", "err", err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("watcher: load config: %w", err)
	}
	xlog.SetLevel(cfg.Logging.Directive)

	redisCache := cache.New(cfg.StorageRedis)
	defer redisCache.Close()

	pool := rpcpool.New(cfg.RPC, rpcpool.BackoffConfig{
		Base:       cfg.CreatorAnalyzer.BaseRetryDelay(),
		Max:        cfg.CreatorAnalyzer.MaxRetryDelay(),
		MaxRetries: cfg.CreatorAnalyzer.MaxRetries,
	})
	wsURL, err := pool.WSURLFor()
	if err != nil {
		return fmt.Errorf("watcher: resolve websocket provider: %w", err)
	}
	logger.Info("watcher_starting", "ws_url", wsURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The block-subscription client and instruction decoder are external
	// collaborators (spec §1); this loop is the seam a real client plugs
	// into via redisCache.Publish(cache.ChannelNewTokenCreated, ...).
	go runSubscriptionLoop(ctx, redisCache)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info("shutdown_signal_received")
	cancel()
	return nil
}

func runSubscriptionLoop(ctx context.Context, c *cache.Cache) {
	<-ctx.Done()
}
