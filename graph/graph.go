// Package graph validates the analyzer's edge set, partitions nodes into
// levels and drops edges implied by longer paths.
package graph

import (
	"sort"

	"github.com/davidroman0O/contestflow/analyzer"
	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/workflow"
)

// Graph is an acyclic, leveled and transitively reduced dependency graph
type Graph struct {
	nodes   map[string]*workflow.Node
	ids     []string
	edges   []analyzer.Edge
	removed []analyzer.Edge
	succ    map[string][]string
	pred    map[string][]string
	levels  [][]string
	levelOf map[string]int
}

// Build validates nodes and edges and levels the graph. Identical input
// always yields identical levels: nodes within a level are sorted by ID.
func Build(steps []workflow.Step, edges []analyzer.Edge) (*Graph, error) {
	const op = "build graph"
	g := &Graph{
		nodes:   make(map[string]*workflow.Node, len(steps)),
		succ:    make(map[string][]string),
		pred:    make(map[string][]string),
		levelOf: make(map[string]int, len(steps)),
	}

	for _, s := range steps {
		if s.ID == "" {
			return nil, flowerrors.Validationf(op, "step without id")
		}
		if _, dup := g.nodes[s.ID]; dup {
			return nil, flowerrors.Validationf(op, "duplicate node id %q", s.ID)
		}
		g.nodes[s.ID] = workflow.NewNode(s)
		g.ids = append(g.ids, s.ID)
	}
	sort.Strings(g.ids)

	seen := make(map[[2]string]bool, len(edges))
	var unique []analyzer.Edge
	for _, e := range edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, flowerrors.Validationf(op, "edge %s references unknown node %q", e, e.From)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, flowerrors.Validationf(op, "edge %s references unknown node %q", e, e.To)
		}
		if e.From == e.To {
			return nil, &flowerrors.CycleError{Nodes: []string{e.From}, Path: []string{e.From, e.From}}
		}
		key := [2]string{e.From, e.To}
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, e)
	}

	if err := g.level(unique); err != nil {
		return nil, err
	}
	g.reduce(unique)

	for _, id := range g.ids {
		g.nodes[id].DependsOn = append([]string(nil), g.pred[id]...)
	}
	return g, nil
}

// level runs Kahn's algorithm, one level per round of zero in-degree nodes
func (g *Graph) level(edges []analyzer.Edge) error {
	indeg := make(map[string]int, len(g.ids))
	out := make(map[string][]string)
	for _, e := range edges {
		indeg[e.To]++
		out[e.From] = append(out[e.From], e.To)
	}

	var current []string
	for _, id := range g.ids {
		if indeg[id] == 0 {
			current = append(current, id)
		}
	}

	placed := 0
	for len(current) > 0 {
		sort.Strings(current)
		for _, id := range current {
			g.levelOf[id] = len(g.levels)
		}
		g.levels = append(g.levels, current)
		placed += len(current)

		var next []string
		for _, id := range current {
			for _, to := range out[id] {
				indeg[to]--
				if indeg[to] == 0 {
					next = append(next, to)
				}
			}
		}
		current = next
	}

	if placed == len(g.ids) {
		return nil
	}

	var stuck []string
	for _, id := range g.ids {
		if indeg[id] > 0 {
			stuck = append(stuck, id)
		}
	}
	return &flowerrors.CycleError{Nodes: stuck, Path: findCycle(stuck, out, indeg)}
}

// findCycle walks the unresolved subgraph to one concrete cycle. Every
// stuck node has a stuck predecessor, so following predecessors from any
// of them must revisit a node.
func findCycle(stuck []string, out map[string][]string, indeg map[string]int) []string {
	if len(stuck) == 0 {
		return nil
	}
	inStuck := make(map[string]bool, len(stuck))
	for _, id := range stuck {
		inStuck[id] = true
	}
	pred := make(map[string][]string)
	for from, tos := range out {
		if !inStuck[from] {
			continue
		}
		for _, to := range tos {
			if inStuck[to] {
				pred[to] = append(pred[to], from)
			}
		}
	}
	for id := range pred {
		sort.Strings(pred[id])
	}

	pos := make(map[string]int)
	var walk []string
	cur := stuck[0]
	for {
		if i, ok := pos[cur]; ok {
			cycle := walk[i:]
			// walk followed predecessors; reverse into edge direction
			path := make([]string, 0, len(cycle)+1)
			for j := len(cycle) - 1; j >= 0; j-- {
				path = append(path, cycle[j])
			}
			return append(path, path[0])
		}
		pos[cur] = len(walk)
		walk = append(walk, cur)
		ps := pred[cur]
		if len(ps) == 0 {
			return nil
		}
		cur = ps[0]
	}
}

// reduce keeps u->v only when v is not reachable through another successor
func (g *Graph) reduce(edges []analyzer.Edge) {
	succ := make(map[string][]string)
	for _, e := range edges {
		succ[e.From] = append(succ[e.From], e.To)
	}

	// descendants in reverse level order, so successors are done first
	desc := make(map[string]map[string]bool, len(g.ids))
	for l := len(g.levels) - 1; l >= 0; l-- {
		for _, id := range g.levels[l] {
			d := make(map[string]bool)
			for _, v := range succ[id] {
				d[v] = true
				for x := range desc[v] {
					d[x] = true
				}
			}
			desc[id] = d
		}
	}

	for _, e := range edges {
		redundant := false
		for _, w := range succ[e.From] {
			if w != e.To && desc[w][e.To] {
				redundant = true
				break
			}
		}
		if redundant {
			g.removed = append(g.removed, e)
			continue
		}
		g.edges = append(g.edges, e)
		g.succ[e.From] = append(g.succ[e.From], e.To)
		g.pred[e.To] = append(g.pred[e.To], e.From)
	}

	for id := range g.succ {
		sort.Strings(g.succ[id])
	}
	for id := range g.pred {
		sort.Strings(g.pred[id])
	}
	sortEdges(g.edges)
	sortEdges(g.removed)
}

func sortEdges(edges []analyzer.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
}

// Levels returns the level partition; level N depends only on levels < N
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, l := range g.levels {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// Level returns the level index of id, or -1
func (g *Graph) Level(id string) int {
	if l, ok := g.levelOf[id]; ok {
		return l
	}
	return -1
}

// Node returns the node with id
func (g *Graph) Node(id string) (*workflow.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes sorted by ID
func (g *Graph) Nodes() []*workflow.Node {
	out := make([]*workflow.Node, len(g.ids))
	for i, id := range g.ids {
		out[i] = g.nodes[id]
	}
	return out
}

// Len is the number of nodes
func (g *Graph) Len() int { return len(g.ids) }

// Edges returns the reduced edge set
func (g *Graph) Edges() []analyzer.Edge {
	return append([]analyzer.Edge(nil), g.edges...)
}

// RemovedEdges returns the edges dropped by transitive reduction
func (g *Graph) RemovedEdges() []analyzer.Edge {
	return append([]analyzer.Edge(nil), g.removed...)
}

// Dependencies returns the direct predecessors of id
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.pred[id]...)
}

// Dependents returns the direct successors of id
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.succ[id]...)
}

// Descendants returns every node reachable from id, sorted
func (g *Graph) Descendants(id string) []string {
	seen := make(map[string]bool)
	stack := append([]string(nil), g.succ[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.succ[n]...)
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
