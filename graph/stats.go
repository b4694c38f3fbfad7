package graph

import (
	"bufio"
	"fmt"
	"io"

	"github.com/davidroman0O/contestflow/analyzer"
)

// Stats summarises a graph for plans and logs
type Stats struct {
	Nodes         int                       `json:"nodes"`
	Edges         int                       `json:"edges"`
	RemovedEdges  int                       `json:"removedEdges"`
	Levels        int                       `json:"levels"`
	MaxLevelWidth int                       `json:"maxLevelWidth"`
	MaxInDegree   int                       `json:"maxInDegree"`
	MaxOutDegree  int                       `json:"maxOutDegree"`
	EdgesByType   map[analyzer.EdgeType]int `json:"edgesByType"`
}

// Stats computes statistics over the reduced graph
func (g *Graph) Stats() Stats {
	s := Stats{
		Nodes:        len(g.ids),
		Edges:        len(g.edges),
		RemovedEdges: len(g.removed),
		Levels:       len(g.levels),
		EdgesByType:  make(map[analyzer.EdgeType]int),
	}
	for _, l := range g.levels {
		s.MaxLevelWidth = max(s.MaxLevelWidth, len(l))
	}
	for _, id := range g.ids {
		s.MaxInDegree = max(s.MaxInDegree, len(g.pred[id]))
		s.MaxOutDegree = max(s.MaxOutDegree, len(g.succ[id]))
	}
	for _, e := range g.edges {
		s.EdgesByType[e.Type]++
	}
	return s
}

// WriteDOT renders the reduced graph in Graphviz format, one cluster per level
func (g *Graph) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph workflow {")
	fmt.Fprintln(bw, "  rankdir=LR;")
	fmt.Fprintln(bw, "  node [shape=box];")

	for i, level := range g.levels {
		fmt.Fprintf(bw, "  subgraph cluster_level_%d {\n", i)
		fmt.Fprintf(bw, "    label=\"level %d\";\n", i)
		for _, id := range level {
			n := g.nodes[id]
			attrs := fmt.Sprintf("label=%q", n.Step.DisplayName())
			if n.Step.Generated {
				attrs += ", style=dashed"
			}
			fmt.Fprintf(bw, "    %q [%s];\n", id, attrs)
		}
		fmt.Fprintln(bw, "  }")
	}

	for _, e := range g.edges {
		fmt.Fprintf(bw, "  %q -> %q [label=%q];\n", e.From, e.To, string(e.Type))
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
