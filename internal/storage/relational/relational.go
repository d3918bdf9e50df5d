// Package relational writes the postgres-backed tokens and
// cex_activity_history tables of spec §4.G; it does not write cex_metrics,
// cex_token_relations, cex_token_ath, token_price_history or
// token_volume_history. Schema itself is owned by the migration runner
// (cmd/migrate); this package only writes rows. Grounded on the teacher's
// go.mod direct dependency on github.com/jinzhu/gorm — the teacher's own
// repository file for its SQL backend was filtered out of the retrieval
// pack, so the gorm call shapes here follow the library's documented v1 API
// directly (Open/Create, and raw Exec for the upsert that gorm v1 has no
// query-builder support for).
package relational

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	"github.com/pkg/errors"

	"github.com/rizilab/al-hafiz/internal/chaintypes"
	"github.com/rizilab/al-hafiz/internal/config"
	xlog "github.com/rizilab/al-hafiz/internal/log"
)

var logger = xlog.NewModuleLogger(xlog.Storage)

// TokenRow is the tokens table (spec §3 TokenRecord + §4.G columns).
type TokenRow struct {
	Mint                 string `gorm:"primary_key;column:mint"`
	Name                 string
	Symbol               string
	URI                  string
	Creator              string
	BondingCurve         string
	CreatedAt            time.Time `gorm:"column:created_at"`
	CexSources           string    // comma-joined address list, spec §4.E step 1
	CexUpdatedAt         *time.Time
	AllTimeHighPrice     float64
	AllTimeHighPriceAt   *time.Time
}

func (TokenRow) TableName() string { return "tokens" }

// CexActivityHistoryRow is cex_activity_history (spec §4.E step 2).
type CexActivityHistoryRow struct {
	ID         int64 `gorm:"primary_key"`
	CexName    string
	CexAddress string
	Mint       string
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (CexActivityHistoryRow) TableName() string { return "cex_activity_history" }

// Store wraps a *gorm.DB connection pool (spec §4.G "bounded connection pool").
type Store struct {
	db *gorm.DB
}

// Open dials postgres using cfg, applying the bounded pool sizes from config.
func Open(cfg config.PostgresConfig) (*Store, error) {
	dsn := "host=" + cfg.Host + " port=" + strconv.Itoa(cfg.Port) + " user=" + cfg.User +
		" password=" + cfg.Password + " dbname=" + cfg.Database + " sslmode=" + cfg.SSLMode
	db, err := gorm.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "relational: open postgres")
	}
	db.DB().SetMaxOpenConns(cfg.MaxOpenConns)
	db.DB().SetMaxIdleConns(cfg.MaxIdleConns)
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *gorm.DB for collaborators sharing this pool
// (spec §4.G: relational and graph writes live in the same postgres instance).
func (s *Store) DB() *gorm.DB { return s.db }

// scrub applies the NUL-scrubbing + UTF-8-lossy re-encoding spec §4.G
// requires for name/symbol/uri before they overwrite a row.
func scrub(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// UpsertToken inserts or updates tokens by mint. all_time_high_price uses
// MAX semantics (never decreases); name/symbol/uri overwrite after scrubbing
// (spec §4.G).
func (s *Store) UpsertToken(mint, name, symbol, uri string, creator chaintypes.Address, bondingCurve string, createdAt time.Time, price float64) error {
	name, symbol, uri = scrub(name), scrub(symbol), scrub(uri)
	err := s.db.Exec(`
		INSERT INTO tokens (mint, name, symbol, uri, creator, bonding_curve, created_at, all_time_high_price, all_time_high_price_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mint) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			uri = EXCLUDED.uri,
			all_time_high_price = GREATEST(tokens.all_time_high_price, EXCLUDED.all_time_high_price),
			all_time_high_price_at = CASE WHEN EXCLUDED.all_time_high_price > tokens.all_time_high_price
				THEN EXCLUDED.all_time_high_price_at ELSE tokens.all_time_high_price_at END
	`, mint, name, symbol, uri, creator.String(), bondingCurve, createdAt, price, createdAt).Error
	if err != nil {
		return errors.Wrap(err, "relational: upsert token")
	}
	return nil
}

// UpdateCexAttribution is step 1 of CexConnection handling (spec §4.E):
// upsert tokens.cex_sources and cex_updated_at. Idempotent: re-adding the
// same cex address is a no-op on the set.
func (s *Store) UpdateCexAttribution(mint string, cexAddress chaintypes.Address, now time.Time) error {
	err := s.db.Exec(`
		UPDATE tokens SET
			cex_sources = CASE WHEN position(? in coalesce(cex_sources, '')) > 0
				THEN cex_sources ELSE trim(both ',' from coalesce(cex_sources, '') || ',' || ?) END,
			cex_updated_at = ?
		WHERE mint = ?
	`, cexAddress.String(), cexAddress.String(), now, mint).Error
	if err != nil {
		return errors.Wrap(err, "relational: update cex attribution")
	}
	return nil
}

// InsertCexActivityHistory is step 2 of CexConnection handling. Failure is
// logged by the caller, not fatal (spec §4.E).
func (s *Store) InsertCexActivityHistory(cexName string, cexAddress chaintypes.Address, mint string) error {
	row := CexActivityHistoryRow{CexName: cexName, CexAddress: cexAddress.String(), Mint: mint, CreatedAt: time.Now()}
	if err := s.db.Create(&row).Error; err != nil {
		return errors.Wrap(err, "relational: insert cex activity history")
	}
	return nil
}
