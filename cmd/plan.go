package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/contestflow/analyzer"
	"github.com/davidroman0O/contestflow/config"
	"github.com/davidroman0O/contestflow/graph"
	"github.com/davidroman0O/contestflow/workflow"
)

var (
	planDOT  bool
	planJSON bool
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan <workflow-file>",
	Short: "Show the execution levels of a workflow without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := config.Load(args[0])
		if err != nil {
			return err
		}
		_, g, err := buildGraph(wf.Steps)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch {
		case planDOT:
			return g.WriteDOT(out)
		case planJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Name   string          `json:"name"`
				Levels [][]string      `json:"levels"`
				Edges  []analyzer.Edge `json:"edges"`
				Stats  graph.Stats     `json:"stats"`
			}{wf.Name, g.Levels(), g.Edges(), g.Stats()})
		}
		printPlan(out, wf.Name, g)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().BoolVar(&planDOT, "dot", false, "Print the graph in Graphviz DOT format")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print levels, edges and statistics as JSON")
}

func buildGraph(steps []workflow.Step) (*analyzer.Analysis, *graph.Graph, error) {
	a, err := analyzer.Analyze(steps)
	if err != nil {
		return nil, nil, err
	}
	g, err := graph.Build(a.Steps, a.Edges)
	if err != nil {
		return nil, nil, err
	}
	return a, g, nil
}

func printPlan(w io.Writer, name string, g *graph.Graph) {
	if name != "" {
		fmt.Fprintf(w, "Workflow: %s\n", name)
	}
	for i, level := range g.Levels() {
		fmt.Fprintf(w, "Level %d:\n", i)
		for _, id := range level {
			n, _ := g.Node(id)
			label := id
			if n.Step.Name != "" {
				label = fmt.Sprintf("%s (%s)", id, n.Step.Name)
			}
			if n.Step.Generated {
				label += " [generated]"
			}
			fmt.Fprintf(w, "  %s\n", label)
		}
	}

	if edges := g.Edges(); len(edges) > 0 {
		fmt.Fprintln(w, "Edges:")
		for _, e := range edges {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	if removed := g.RemovedEdges(); len(removed) > 0 {
		fmt.Fprintf(w, "Redundant edges removed: %d\n", len(removed))
	}

	s := g.Stats()
	fmt.Fprintf(w, "Nodes: %d, edges: %d, levels: %d, widest level: %d\n", s.Nodes, s.Edges, s.Levels, s.MaxLevelWidth)
	types := make([]string, 0, len(s.EdgesByType))
	for t := range s.EdgesByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %s: %d\n", t, s.EdgesByType[analyzer.EdgeType(t)])
	}
}
