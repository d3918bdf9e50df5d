// Package graph persists a crawl.Graph snapshot into wallet_nodes /
// wallet_edges as one transaction (spec §4.G "Graph persistence"). Grounded
// on the original storage/postgres/graph.rs transactional upsert, reworked
// into gorm v1's db.Begin()/Commit()/Rollback() idiom.
package graph

import (
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"

	"github.com/rizilab/al-hafiz/internal/cex"
	"github.com/rizilab/al-hafiz/internal/crawl"
	xlog "github.com/rizilab/al-hafiz/internal/log"
)

var logger = xlog.NewModuleLogger(xlog.Storage)

// WalletNodeRow is wallet_nodes (pubkey unique).
type WalletNodeRow struct {
	ID      int64  `gorm:"primary_key"`
	Pubkey  string `gorm:"unique_index"`
	IsCEX   bool
	CexName string
}

func (WalletNodeRow) TableName() string { return "wallet_nodes" }

// WalletEdgeRow is wallet_edges, unique on (source_pubkey, target_pubkey, mint, timestamp).
type WalletEdgeRow struct {
	ID           int64 `gorm:"primary_key"`
	SourceID     int64
	TargetID     int64
	SourcePubkey string
	TargetPubkey string
	Cost         float64
	Amount       float64
	Timestamp    int64
	Mint         string
}

func (WalletEdgeRow) TableName() string { return "wallet_edges" }

// Writer persists crawl graphs transactionally.
type Writer struct {
	db *gorm.DB
}

// New wraps an existing gorm connection; the relational.Store and this
// Writer share one pool (spec §4.G tables all live in the same postgres
// instance).
func New(db *gorm.DB) *Writer { return &Writer{db: db} }

// cexNameFor resolves a node's label from the static directory.
func cexNameFor(n crawl.Node) string {
	if !n.IsCEX {
		return ""
	}
	name, _ := cex.Lookup(n.Address)
	return string(name)
}

// Persist writes every node then every edge of g inside one transaction
// (spec §4.G steps 1-2); commits or rolls back as a unit.
func (w *Writer) Persist(mint string, g *crawl.Graph) error {
	tx := w.db.Begin()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "graph: begin tx")
	}

	ids := make(map[[32]byte]int64)
	for _, n := range g.Nodes() {
		row := WalletNodeRow{
			Pubkey:  n.Address.String(),
			IsCEX:   n.IsCEX,
			CexName: cexNameFor(n),
		}
		if err := tx.Where(WalletNodeRow{Pubkey: row.Pubkey}).
			Assign(WalletNodeRow{IsCEX: row.IsCEX, CexName: row.CexName}).
			FirstOrCreate(&row).Error; err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "graph: upsert wallet_node %s", row.Pubkey)
		}
		ids[n.Address] = row.ID
	}

	for _, e := range g.Edges() {
		sourceID, sok := ids[e.From]
		targetID, tok := ids[e.To]
		if !sok || !tok {
			logger.Warn("graph_persist_missing_node", "source", e.From.String(), "target", e.To.String())
			continue
		}
		edge := WalletEdgeRow{
			SourceID:     sourceID,
			TargetID:     targetID,
			SourcePubkey: e.From.String(),
			TargetPubkey: e.To.String(),
			Cost:         1.0,
			Amount:       e.Amount,
			Timestamp:    e.Timestamp,
			Mint:         mint,
		}
		existing := WalletEdgeRow{
			SourcePubkey: edge.SourcePubkey,
			TargetPubkey: edge.TargetPubkey,
			Mint:         edge.Mint,
			Timestamp:    edge.Timestamp,
		}
		if err := tx.Where(existing).
			Assign(WalletEdgeRow{Amount: edge.Amount, SourceID: edge.SourceID, TargetID: edge.TargetID, Cost: edge.Cost}).
			FirstOrCreate(&edge).Error; err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "graph: upsert wallet_edge %s->%s", edge.SourcePubkey, edge.TargetPubkey)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, "graph: commit tx")
	}
	return nil
}
