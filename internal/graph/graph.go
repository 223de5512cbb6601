// Package graph implements C5 (SPEC_FULL.md §4.5): an in-process directed
// multigraph of memory connections, with BFS path-finding, DFS clustering,
// and weighted-degree centrality. Grounded on the teacher's memoryGraph
// (persistence/databases/memory_graph.go) node-map + adjacency-map-of-edges
// shape, generalized from single-relation neighbor lookups to typed,
// weighted, capped edges.
package graph

import (
	"sort"
	"sync"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/model"
)

// Edge is one directed connection as held in the in-process graph.
type Edge struct {
	ConnectionID string
	From         string
	To           string
	Type         model.ConnectionType
	Strength     float64
}

// Graph is safe for concurrent use. maxPerNode bounds the out-degree kept
// for any single node: once exceeded, the weakest outgoing edge is evicted
// so the graph cannot grow unbounded under heavy connection discovery
// traffic (spec §4.5.4). strengthThreshold is the floor below which AddEdge
// drops a candidate edge silently rather than inserting it (spec §4.5).
// defaultMaxDepth is the traversal bound callers (connections.Engine) use
// when they don't have a more specific depth of their own.
type Graph struct {
	mu                sync.RWMutex
	nodes             map[string]bool
	outgoing          map[string][]Edge
	incoming          map[string][]Edge
	maxPerNode        int
	strengthThreshold float64
	defaultMaxDepth   int
}

// New builds a Graph from cfg. MaxConnections <= 0 defaults to 50,
// MaxDepth <= 0 defaults to 6, matching the teacher's memoryGraph defaults.
func New(cfg config.GraphConfig) *Graph {
	maxPerNode := cfg.MaxConnections
	if maxPerNode <= 0 {
		maxPerNode = 50
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 6
	}
	return &Graph{
		nodes:             map[string]bool{},
		outgoing:          map[string][]Edge{},
		incoming:          map[string][]Edge{},
		maxPerNode:        maxPerNode,
		strengthThreshold: cfg.StrengthThreshold,
		defaultMaxDepth:   maxDepth,
	}
}

// DefaultMaxDepth is the traversal depth configured for this graph,
// used by callers that don't have a tighter bound of their own.
func (g *Graph) DefaultMaxDepth() int { return g.defaultMaxDepth }

func (g *Graph) AddNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[id] = true
}

// AddEdge inserts or replaces the edge for c.ID and enforces the per-node
// out-degree cap by evicting the weakest existing outgoing edge. Edges
// weaker than strengthThreshold are dropped silently (spec §4.5).
func (g *Graph) AddEdge(c *model.Connection) {
	if c == nil || c.SourceMemoryID == "" || c.TargetMemoryID == "" {
		return
	}
	if c.Strength < g.strengthThreshold {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[c.SourceMemoryID] = true
	g.nodes[c.TargetMemoryID] = true

	e := Edge{ConnectionID: c.ID, From: c.SourceMemoryID, To: c.TargetMemoryID, Type: c.ConnectionType, Strength: c.Strength}
	g.outgoing[c.SourceMemoryID] = upsertEdge(g.outgoing[c.SourceMemoryID], e)
	g.incoming[c.TargetMemoryID] = upsertEdge(g.incoming[c.TargetMemoryID], e)

	if len(g.outgoing[c.SourceMemoryID]) > g.maxPerNode {
		g.outgoing[c.SourceMemoryID] = evictWeakest(g.outgoing[c.SourceMemoryID])
	}
}

func upsertEdge(edges []Edge, e Edge) []Edge {
	for i, existing := range edges {
		if existing.ConnectionID == e.ConnectionID {
			edges[i] = e
			return edges
		}
	}
	return append(edges, e)
}

func evictWeakest(edges []Edge) []Edge {
	if len(edges) == 0 {
		return edges
	}
	weakest := 0
	for i, e := range edges[1:] {
		if e.Strength < edges[weakest].Strength {
			weakest = i + 1
		}
	}
	return append(edges[:weakest], edges[weakest+1:]...)
}

// RemoveNode drops a node and every edge touching it.
func (g *Graph) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.outgoing[id] {
		g.incoming[e.To] = removeByConnID(g.incoming[e.To], e.ConnectionID)
	}
	for _, e := range g.incoming[id] {
		g.outgoing[e.From] = removeByConnID(g.outgoing[e.From], e.ConnectionID)
	}
	delete(g.outgoing, id)
	delete(g.incoming, id)
	delete(g.nodes, id)
}

func removeByConnID(edges []Edge, id string) []Edge {
	out := edges[:0]
	for _, e := range edges {
		if e.ConnectionID != id {
			out = append(out, e)
		}
	}
	return out
}

// Neighbors returns the union of outgoing and incoming edges for id whose
// strength is at least minStrength.
func (g *Graph) Neighbors(id string, minStrength float64) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Edge
	for _, e := range g.outgoing[id] {
		if e.Strength >= minStrength {
			out = append(out, e)
		}
	}
	for _, e := range g.incoming[id] {
		if e.Strength >= minStrength {
			out = append(out, e)
		}
	}
	return out
}

// FindPath runs a breadth-first search for the shortest node path from
// start to target, bounded by maxDepth hops, considering only edges at or
// above minStrength.
func (g *Graph) FindPath(start, target string, maxDepth int, minStrength float64) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if start == target {
		return []string{start}, true
	}
	type frame struct {
		id   string
		path []string
	}
	visited := map[string]bool{start: true}
	queue := []frame{{id: start, path: []string{start}}}
	for depth := 0; depth < maxDepth && len(queue) > 0; depth++ {
		var next []frame
		for _, f := range queue {
			for _, e := range g.neighborIDsLocked(f.id, minStrength) {
				if visited[e] {
					continue
				}
				path := append(append([]string(nil), f.path...), e)
				if e == target {
					return path, true
				}
				visited[e] = true
				next = append(next, frame{id: e, path: path})
			}
		}
		queue = next
	}
	return nil, false
}

func (g *Graph) neighborIDsLocked(id string, minStrength float64) []string {
	var out []string
	for _, e := range g.outgoing[id] {
		if e.Strength >= minStrength {
			out = append(out, e.To)
		}
	}
	for _, e := range g.incoming[id] {
		if e.Strength >= minStrength {
			out = append(out, e.From)
		}
	}
	return out
}

// Clusters returns connected components of size >= 2 via depth-first search,
// considering only edges at or above minStrength (spec §4.5.3).
func (g *Graph) Clusters(minStrength float64) [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	visited := map[string]bool{}
	var clusters [][]string
	for id := range g.nodes {
		if visited[id] {
			continue
		}
		var component []string
		stack := []string{id}
		visited[id] = true
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, n)
			for _, nb := range g.neighborIDsLocked(n, minStrength) {
				if !visited[nb] {
					visited[nb] = true
					stack = append(stack, nb)
				}
			}
		}
		if len(component) >= 2 {
			clusters = append(clusters, component)
		}
	}
	return clusters
}

// CentralityScore pairs a node with its weighted-degree centrality.
type CentralityScore struct {
	MemoryID   string
	Centrality float64
}

// CentralMemories ranks nodes by weighted degree (sum of incident edge
// strengths) and returns the top n. This is the only centrality signal the
// engine computes (spec §9 open question: in-process graph only, no
// storage-adapter override).
func (g *Graph) CentralMemories(n int) []CentralityScore {
	g.mu.RLock()
	defer g.mu.RUnlock()
	scores := make(map[string]float64, len(g.nodes))
	for id := range g.nodes {
		var sum float64
		for _, e := range g.outgoing[id] {
			sum += e.Strength
		}
		for _, e := range g.incoming[id] {
			sum += e.Strength
		}
		scores[id] = sum
	}
	out := make([]CentralityScore, 0, len(scores))
	for id, s := range scores {
		out = append(out, CentralityScore{MemoryID: id, Centrality: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Centrality > out[j].Centrality })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// NodeCount exposes graph size for diagnostics/tests.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
