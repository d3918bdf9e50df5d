package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizilab/al-hafiz/internal/cex"
	"github.com/rizilab/al-hafiz/internal/chaintypes"
	"github.com/rizilab/al-hafiz/internal/crawl"
)

func addrH(b byte) chaintypes.Address {
	var a chaintypes.Address
	a[len(a)-1] = b
	return a
}

func newTestHandler() *Handler {
	return &Handler{
		mailbox:  make(chan Message, mailboxCapacity),
		maxDepth: 5,
	}
}

func TestProcessSender_CEXTerminal_SendsCexConnection(t *testing.T) {
	h := newTestHandler()
	g := crawl.NewGraph()
	h.BindGraph(g)

	state := crawl.NewState(addrH(0xff), addrH(1), 5)
	// addr(0x0a) is binance-1 in the static directory.
	cexAddr := chaintypes.MustHexToAddress("0x" + "0a")
	require.True(t, cex.Contains(cexAddr))

	err := h.ProcessSender(context.Background(), state, cexAddr, addrH(2), 100, time.Now())
	require.NoError(t, err)

	select {
	case msg := <-h.mailbox:
		cc, ok := msg.(CexConnection)
		require.True(t, ok)
		assert.Equal(t, cexAddr, cc.CexAddress)
		assert.Equal(t, state.Mint.String(), cc.Mint)
	default:
		t.Fatal("expected a CexConnection message in the mailbox")
	}
}

func TestProcessSender_NonTerminal_MarksVisitedAndPushesFrontier(t *testing.T) {
	h := newTestHandler()
	g := crawl.NewGraph()
	h.BindGraph(g)

	state := crawl.NewState(addrH(0xff), addrH(1), 5)
	state.MarkVisited(addrH(2), 0, []chaintypes.Address{addrH(2)})

	err := h.ProcessSender(context.Background(), state, addrH(3), addrH(2), 100, time.Now())
	require.NoError(t, err)

	depth, ok := state.VisitedDepth(addrH(3))
	require.True(t, ok)
	assert.Equal(t, 1, depth)
	assert.Equal(t, 1, state.FrontierLen())

	select {
	case msg := <-h.mailbox:
		m, ok := msg.(ProcessBfsLevel)
		require.True(t, ok)
		assert.Equal(t, addrH(3), m.Address)
		assert.Equal(t, 1, m.Depth)
	default:
		t.Fatal("expected a ProcessBfsLevel message in the mailbox")
	}
}

func TestHandleProcessBfsLevel_PopsMatchingFrontierEntry(t *testing.T) {
	h := newTestHandler()
	state := crawl.NewState(addrH(0xff), addrH(1), 5)
	state.PushFrontier(crawl.FrontierEntry{Address: addrH(2), Depth: 5})
	m := ProcessBfsLevel{Address: addrH(2), Depth: 5, Mint: "mint1", Graph: crawl.NewGraph(), State: state}

	h.handleProcessBfsLevel(context.Background(), m)

	assert.Equal(t, 0, state.FrontierLen())
	assert.True(t, state.IsComplete())
}

func TestProcessSender_SkipsAlreadyShouldSkipSource(t *testing.T) {
	h := newTestHandler()
	g := crawl.NewGraph()
	h.BindGraph(g)

	state := crawl.NewState(addrH(0xff), addrH(1), 5)
	state.MarkVisited(addrH(2), 0, []chaintypes.Address{addrH(2)})
	state.MarkVisited(addrH(3), 1, []chaintypes.Address{addrH(2), addrH(3)})

	err := h.ProcessSender(context.Background(), state, addrH(3), addrH(2), 100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, state.FrontierLen())
}

func TestProcessSender_SkipsBeyondMaxDepth(t *testing.T) {
	h := newTestHandler()
	g := crawl.NewGraph()
	h.BindGraph(g)

	state := crawl.NewState(addrH(0xff), addrH(1), 1)
	state.MarkVisited(addrH(2), 1, []chaintypes.Address{addrH(2)})

	err := h.ProcessSender(context.Background(), state, addrH(3), addrH(2), 100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, state.FrontierLen())
	_, visited := state.VisitedDepth(addrH(3))
	assert.False(t, visited)
}

func TestProcessSender_DestinationNotVisitedIsNoop(t *testing.T) {
	h := newTestHandler()
	g := crawl.NewGraph()
	h.BindGraph(g)

	state := crawl.NewState(addrH(0xff), addrH(1), 5)
	err := h.ProcessSender(context.Background(), state, addrH(3), addrH(2), 100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, state.FrontierLen())
}

func TestTrySend_ReturnsErrMailboxFullWhenSaturated(t *testing.T) {
	h := &Handler{mailbox: make(chan Message, 2)}
	require.NoError(t, h.TrySend(StoreCreator{}))
	require.NoError(t, h.TrySend(StoreCreator{}))
	assert.Equal(t, ErrMailboxFull, h.TrySend(StoreCreator{}))
}

func TestHandleProcessBfsLevel_DepthExhaustedIsNoop(t *testing.T) {
	h := newTestHandler()
	state := crawl.NewState(addrH(0xff), addrH(1), 5)
	m := ProcessBfsLevel{Address: addrH(2), Depth: 5, Mint: "mint1", Graph: crawl.NewGraph(), State: state}

	// must not touch cache/relational/pipelineRunner, all nil here.
	assert.NotPanics(t, func() {
		h.handleProcessBfsLevel(context.Background(), m)
	})
}

func TestSetComponent_WiresPipelineRunner(t *testing.T) {
	h := newTestHandler()
	called := false
	h.SetComponent(PipelineRunner(func(ctx context.Context, mint string, address chaintypes.Address, depth int, state *crawl.State, g *crawl.Graph) {
		called = true
	}))
	require.NotNil(t, h.pipelineRunner)
	h.pipelineRunner(context.Background(), "m", addrH(1), 0, nil, nil)
	assert.True(t, called)
}

