// Package handler implements the Creator Handler actor of spec §4.E: a
// single-consumer mailbox that serializes every graph/relational/cache
// mutation for one crawl so applying an update is always single-threaded,
// even though many decode tasks compute updates concurrently (spec §5).
// Grounded on the teacher's actor-ish Repository/EventBroker split
// (datasync/chaindatafetcher/common/common.go) and its SetComponent wiring
// idiom, reworked from "swap a repository" to "swap a pipeline runner".
package handler

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/rizilab/al-hafiz/internal/cex"
	"github.com/rizilab/al-hafiz/internal/chaintypes"
	"github.com/rizilab/al-hafiz/internal/crawl"
	xlog "github.com/rizilab/al-hafiz/internal/log"
	"github.com/rizilab/al-hafiz/internal/storage/cache"
	"github.com/rizilab/al-hafiz/internal/storage/graph"
	"github.com/rizilab/al-hafiz/internal/storage/relational"
)

var logger = xlog.NewModuleLogger(xlog.Handler)

// mailboxCapacity bounds the actor's mailbox; a full mailbox surfaces
// ErrMailboxFull to the caller (spec §4.E "try_send ... SendError").
const mailboxCapacity = 1000

// ErrMailboxFull is returned by TrySend when the mailbox is saturated —
// spec §7's BackpressureError.
type mailboxFullError struct{}

func (mailboxFullError) Error() string { return "handler: mailbox full" }

var ErrMailboxFull error = mailboxFullError{}

// Message is the sum type of the three mailbox kinds (spec §4.E).
type Message interface{ isMessage() }

// StoreCreator persists creator metadata; a reserved no-op today (spec §4.E).
type StoreCreator struct {
	Metadata map[string]string
}

func (StoreCreator) isMessage() {}

// CexConnection finalizes attribution for Mint once Cex has been reached.
type CexConnection struct {
	Cex        cex.Name
	CexAddress chaintypes.Address
	Graph      *crawl.Graph
	Mint       string
	Creator    chaintypes.Address
}

func (CexConnection) isMessage() {}

// ProcessBfsLevel requests the next-level scan for Address.
type ProcessBfsLevel struct {
	Address chaintypes.Address
	Depth   int
	Mint    string
	Graph   *crawl.Graph
	State   *crawl.State
}

func (ProcessBfsLevel) isMessage() {}

// PipelineRunner executes the fetcher+transfer pipeline for one address at
// one BFS depth against the shared crawl state, under ctx. Wired by the
// process that owns the fetcher pool (cmd/analyzer), not by this package,
// to avoid coupling the actor to RPC/transport concerns.
type PipelineRunner func(ctx context.Context, mint string, address chaintypes.Address, depth int, state *crawl.State, g *crawl.Graph)

// QueueManager is the subset of the Work Queue Manager (§4.F) the handler
// needs on pipeline failure/backpressure.
type QueueManager interface {
	MarkFailed(ctx context.Context, mint string, address chaintypes.Address, retryCount int) error
	MarkUnprocessed(ctx context.Context, mint string, address chaintypes.Address) error
}

// Publisher is the narrow broker surface used for token_cex_updated.
type Publisher interface {
	PublishTokenCexUpdated(env cache.TokenCexUpdatedEnvelope) error
}

// Handler is one Creator Handler actor instance; spec §4.E's "single
// handler instance" per crawl's worth of graph mutation.
type Handler struct {
	mailbox chan Message

	relational *relational.Store
	graphs     *graph.Writer
	cache      *cache.Cache
	publisher  Publisher
	queue      QueueManager

	pipelineRunner PipelineRunner
	maxDepth       int
	activeGraph    *crawl.Graph
}

// New builds a Handler with its storage fan-out wired in.
func New(rel *relational.Store, graphWriter *graph.Writer, c *cache.Cache, pub Publisher, q QueueManager, maxDepth int) *Handler {
	return &Handler{
		mailbox:    make(chan Message, mailboxCapacity),
		relational: rel,
		graphs:     graphWriter,
		cache:      c,
		publisher:  pub,
		queue:      q,
		maxDepth:   maxDepth,
	}
}

// SetComponent wires optional collaborators after construction, mirroring
// the teacher's Repository.SetComponent(component interface{}) idiom rather
// than widening the constructor signature for an optional dependency.
func (h *Handler) SetComponent(component interface{}) {
	if fn, ok := component.(PipelineRunner); ok {
		h.pipelineRunner = fn
	}
}

// TrySend delivers msg without blocking; ErrMailboxFull on a saturated
// mailbox (spec §4.E back-pressure).
func (h *Handler) TrySend(msg Message) error {
	select {
	case h.mailbox <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Run drains the mailbox sequentially until ctx is cancelled, applying every
// message's mutation single-threaded (spec §5 "applying is single-threaded
// per handler instance").
func (h *Handler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-h.mailbox:
			if !ok {
				return
			}
			h.dispatch(ctx, msg)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case StoreCreator:
		// Reserved: no persistence contract defined yet (spec §4.E).
	case CexConnection:
		h.handleCexConnection(ctx, m)
	case ProcessBfsLevel:
		h.handleProcessBfsLevel(ctx, m)
	}
}

// handleCexConnection runs the six steps of spec §4.E strictly in order.
// Steps 2-6 are non-fatal; their errors are aggregated with multierr and
// logged as one value without masking which step(s) failed.
func (h *Handler) handleCexConnection(ctx context.Context, m CexConnection) {
	now := time.Now()

	// Step 1: authoritative. Not rolled back by later failures.
	if err := h.relational.UpdateCexAttribution(m.Mint, m.CexAddress, now); err != nil {
		logger.Error("cex_attribution_update_failed", "mint", m.Mint, "cex_address", m.CexAddress.String(), "err", err)
	}

	var errs error

	// Step 2.
	if err := h.relational.InsertCexActivityHistory(string(m.Cex), m.CexAddress, m.Mint); err != nil {
		errs = multierr.Append(errs, err)
	}

	// Step 3.
	if err := h.graphs.Persist(m.Mint, m.Graph); err != nil {
		errs = multierr.Append(errs, err)
	}

	// Step 4: rewrite the cached token record with the new CEX fields.
	rec, found, err := h.cache.GetToken(m.Mint)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	if !found {
		rec = cache.TokenRecord{Mint: m.Mint, Creator: m.Creator.String()}
	}
	rec.CexSources = appendUnique(rec.CexSources, m.CexAddress.String())
	rec.CexUpdatedAt = &now
	if err := h.cache.PutToken(m.Mint, rec); err != nil {
		errs = multierr.Append(errs, err)
	}

	// Step 5.
	if err := h.cache.PutDeveloperConnectionGraph(m.Mint, m.Graph); err != nil {
		errs = multierr.Append(errs, err)
	}

	// Step 6: publish only after the cache write (spec §4.E ordering).
	env := cache.TokenCexUpdatedEnvelope{
		Mint:         m.Mint,
		CexName:      string(m.Cex),
		CexAddress:   m.CexAddress.String(),
		Creator:      m.Creator.String(),
		CexUpdatedAt: now,
		NodeCount:    m.Graph.NodeCount(),
		EdgeCount:    m.Graph.EdgeCount(),
	}
	if err := h.publisher.PublishTokenCexUpdated(env); err != nil {
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		logger.Warn("cex_connection_non_fatal_errors", "mint", m.Mint, "err", errs)
	}
}

func appendUnique(sources []string, addr string) []string {
	for _, s := range sources {
		if s == addr {
			return sources
		}
	}
	return append(sources, addr)
}

// handleProcessBfsLevel is spec §4.E's ProcessBfsLevel handling: pop the
// frontier entry ProcessSender pushed for this address, fail fast past
// max_depth, snapshot the graph, then spawn the next scan under a child of
// the calling context.
func (h *Handler) handleProcessBfsLevel(ctx context.Context, m ProcessBfsLevel) {
	if _, ok := m.State.TryPopFrontier(); !ok {
		logger.Error("bfs_level_frontier_entry_missing", "mint", m.Mint, "address", m.Address.String(), "depth", m.Depth)
	}

	if m.Depth >= h.maxDepth {
		logger.Debug("bfs_level_depth_exhausted", "mint", m.Mint, "address", m.Address.String(), "depth", m.Depth)
		// No runPipeline invocation will ever run for this address, so this
		// is the only place that can observe the frontier/in-flight draining
		// to zero for a crawl that bottoms out at max_depth (spec §8 S4).
		if m.State.TryClaimCompletion() {
			logger.Info("crawl_complete", "mint", m.Mint, "crawl_id", m.State.CrawlID.String())
		}
		return
	}

	if err := h.cache.PutBfsLevelGraph(m.Mint, m.Depth, m.Graph); err != nil {
		logger.Warn("bfs_level_graph_cache_failed", "mint", m.Mint, "depth", m.Depth, "err", err)
	}

	if h.pipelineRunner == nil {
		logger.Error("bfs_level_no_pipeline_runner", "mint", m.Mint, "address", m.Address.String())
		if m.State.TryClaimCompletion() {
			logger.Info("crawl_complete", "mint", m.Mint, "crawl_id", m.State.CrawlID.String())
		}
		return
	}

	childCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		h.pipelineRunner(childCtx, m.Mint, m.Address, m.Depth, m.State, m.Graph)
	}()
}

// ProcessSender implements transfer.Sender, the Transfer Processor's call
// into the Creator Handler (spec §4.C). Graph and CrawlState mutations here
// are already safe for concurrent callers on their own locks; only the
// storage fan-out and child-pipeline spawn need the mailbox's serialization.
func (h *Handler) ProcessSender(ctx context.Context, state *crawl.State, source, destination chaintypes.Address, amount float64, timestamp time.Time) error {
	g := h.graphFor(state)
	if g == nil {
		return nil
	}
	g.AddEdge(source, destination, amount, timestamp.Unix())

	if cex.Contains(source) {
		name, _ := cex.Lookup(source)
		msg := CexConnection{
			Cex:        name,
			CexAddress: source,
			Graph:      g,
			Mint:       state.Mint.String(),
			Creator:    state.OriginalCreator,
		}
		return h.TrySend(msg)
	}

	if state.ShouldSkip(source) {
		return nil
	}
	destDepth, ok := state.VisitedDepth(destination)
	if !ok {
		return nil
	}
	childDepth := destDepth + 1
	if childDepth > state.MaxDepth {
		return nil
	}
	path := append(append([]chaintypes.Address{}, state.PathTo(destination)...), source)
	state.MarkVisited(source, childDepth, path)
	state.PushFrontier(crawl.FrontierEntry{Address: source, Depth: childDepth, Path: path})

	// PushFrontier happens-before this send: handleProcessBfsLevel pops the
	// matching entry itself, so the frontier and the mailbox never disagree
	// about which entries are still pending (spec §4.E).
	return h.TrySend(ProcessBfsLevel{
		Address: source,
		Depth:   childDepth,
		Mint:    state.Mint.String(),
		Graph:   g,
		State:   state,
	})
}

func (h *Handler) graphFor(state *crawl.State) *crawl.Graph {
	return h.activeGraph
}

// BindGraph associates the *crawl.Graph this handler mutates via
// ProcessSender for the lifetime of one crawl. One Handler instance serves
// one mint's crawl (spec §4.E "single handler instance").
func (h *Handler) BindGraph(g *crawl.Graph) { h.activeGraph = g }

// HandlePipelineFailure marks state Failed and enqueues it to
// failed_accounts via the Work Queue Manager (spec §7 PipelineError).
func (h *Handler) HandlePipelineFailure(ctx context.Context, state *crawl.State, mint string, address chaintypes.Address) {
	state.SetStatus(crawl.StatusFailed)
	retryCount := state.IncrementRetry()
	if err := h.queue.MarkFailed(ctx, mint, address, retryCount); err != nil {
		logger.Error("mark_failed_failed", "mint", mint, "address", address.String(), "err", err)
	}
}

// HandleBackpressure re-queues to unprocessed_accounts without touching
// retry_count (spec §7 BackpressureError).
func (h *Handler) HandleBackpressure(ctx context.Context, mint string, address chaintypes.Address) {
	if err := h.queue.MarkUnprocessed(ctx, mint, address); err != nil {
		logger.Error("mark_unprocessed_failed", "mint", mint, "address", address.String(), "err", err)
	}
}
