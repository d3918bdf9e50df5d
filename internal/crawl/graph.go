// Package crawl implements spec §3/§4.D: the per-token CrawlGraph and
// CrawlState shared among the tasks of one BFS crawl. Grounded on the
// original storage/in_memory/creator.rs (CreatorCexConnectionGraph) and
// model/creator/graph.rs, reworked into the teacher's RWMutex-guarded
// shared-state idiom (spec §5 "visited/frontier/in-flight/history: reader-
// writer locks, read-heavy").
package crawl

import (
	"encoding/json"
	"sync"

	"github.com/rizilab/al-hafiz/internal/cex"
	"github.com/rizilab/al-hafiz/internal/chaintypes"
)

// Node is one vertex of the transfer graph (spec §3 CrawlGraph.Nodes).
type Node struct {
	Address       chaintypes.Address `json:"address"`
	TotalReceived float64            `json:"total_received"`
	TotalBalance  float64            `json:"total_balance"`
	IsCEX         bool               `json:"is_cex"`
}

// Edge is one directed transfer; the graph is a multigraph, repeated
// transfers add parallel edges (spec §3).
type Edge struct {
	From      chaintypes.Address `json:"from"`
	To        chaintypes.Address `json:"to"`
	Amount    float64            `json:"amount"`
	Timestamp int64              `json:"timestamp"`
}

// canonicalGraph is the JSON wire form: nodes + edges only. The
// address->index map is not part of the canonical form and is rebuilt
// after deserialization, per spec §9 ("node-index map must be rebuilt after
// deserialization").
type canonicalGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Graph is the per-token crawl graph: an arena of nodes plus an index map,
// matching spec §9's guidance to avoid owning pointers in a cyclic
// structure (Vec<Node> + HashMap<Address, NodeIndex> in the original).
type Graph struct {
	mu    sync.RWMutex
	nodes []Node
	index map[chaintypes.Address]int
	edges []Edge
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{index: make(map[chaintypes.Address]int)}
}

// EnsureNode returns the existing node for addr or creates one, keeping the
// is_cex flag in lockstep with the CEX directory (spec §3 invariant).
func (g *Graph) EnsureNode(addr chaintypes.Address) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	if idx, ok := g.index[addr]; ok {
		return &g.nodes[idx]
	}
	n := Node{Address: addr, IsCEX: cex.Contains(addr)}
	g.nodes = append(g.nodes, n)
	g.index[addr] = len(g.nodes) - 1
	return &g.nodes[len(g.nodes)-1]
}

// AddEdge records a directed transfer and updates the destination node's
// running total_received.
func (g *Graph) AddEdge(from, to chaintypes.Address, amount float64, timestamp int64) {
	g.EnsureNode(from)
	g.EnsureNode(to)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = append(g.edges, Edge{From: from, To: to, Amount: amount, Timestamp: timestamp})
	if idx, ok := g.index[to]; ok {
		g.nodes[idx].TotalReceived += amount
	}
}

// Nodes returns a snapshot copy of the node arena.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns a snapshot copy of the edge list.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// NodeCount and EdgeCount back the node_count/edge_count fields of the
// token_cex_updated envelope (spec §4.E step 6).
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// MarshalJSON emits the canonical wire form (nodes + edges only).
func (g *Graph) MarshalJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return json.Marshal(canonicalGraph{Nodes: g.nodes, Edges: g.edges})
}

// UnmarshalJSON restores nodes/edges and rebuilds the index map, since the
// map is not part of the canonical form (spec §9).
func (g *Graph) UnmarshalJSON(data []byte) error {
	var c canonicalGraph
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = c.Nodes
	g.edges = c.Edges
	g.index = make(map[chaintypes.Address]int, len(c.Nodes))
	for i, n := range c.Nodes {
		g.index[n.Address] = i
	}
	return nil
}
