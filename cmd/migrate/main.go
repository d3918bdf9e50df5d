// Command migrate runs schema migrations to the version embedded in the
// binary and exits (spec §6). Grounded on the teacher's minimal single-
// action cli.App shape (cmd/kbn/backend.go-style one-command tools),
// applied here via gorm's AutoMigrate against the row types owned by
// internal/storage/relational and internal/storage/graph.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/rizilab/al-hafiz/internal/config"
	xlog "github.com/rizilab/al-hafiz/internal/log"
	"github.com/rizilab/al-hafiz/internal/storage/graph"
	"github.com/rizilab/al-hafiz/internal/storage/relational"
)

var logger = xlog.NewModuleLogger(xlog.Migrate)

// schemaVersion is bumped whenever a migration is added below.
const schemaVersion = 1

func main() {
	app := cli.NewApp()
	app.Name = "migrate"
	app.Usage = fmt.Sprintf("applies al-hafiz schema version %d and exits", schemaVersion)
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Value: "Config.toml", Usage: "path to the TOML config file"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Crit("migrate_failed", "err", err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("migrate: load config: %w", err)
	}
	xlog.SetLevel(cfg.Logging.Directive)

	store, err := relational.Open(cfg.StoragePostgres)
	if err != nil {
		return fmt.Errorf("migrate: open postgres: %w", err)
	}
	defer store.Close()

	db := store.DB()
	if err := db.AutoMigrate(
		&relational.TokenRow{},
		&relational.CexActivityHistoryRow{},
		&graph.WalletNodeRow{},
		&graph.WalletEdgeRow{},
	).Error; err != nil {
		return fmt.Errorf("migrate: auto migrate: %w", err)
	}

	if err := db.Model(&graph.WalletEdgeRow{}).AddUniqueIndex(
		"idx_wallet_edges_source_target_mint_ts",
		"source_pubkey", "target_pubkey", "mint", "timestamp",
	).Error; err != nil {
		logger.Warn("add_unique_index_failed", "err", err)
	}

	logger.Info("migration_applied", "schema_version", schemaVersion)
	return nil
}
