package graph

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/contestflow/analyzer"
	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/workflow"
)

func steps(ids ...string) []workflow.Step {
	out := make([]workflow.Step, len(ids))
	for i, id := range ids {
		out[i] = workflow.Step{ID: id, Kind: workflow.KindShell, Command: []string{"true"}}
	}
	return out
}

func edge(from, to string) analyzer.Edge {
	return analyzer.Edge{From: from, To: to, Type: analyzer.EdgeExecOrder}
}

func TestLevels(t *testing.T) {
	g, err := Build(steps("d", "c", "b", "a"), []analyzer.Edge{
		edge("a", "c"),
		edge("b", "c"),
		edge("c", "d"),
	})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b"}, {"c"}, {"d"}}, g.Levels())
	assert.Equal(t, 1, g.Level("c"))
	assert.Equal(t, -1, g.Level("ghost"))
	assert.Equal(t, 4, g.Len())

	n, ok := g.Node("c")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, n.DependsOn)
	assert.Equal(t, workflow.StatePending, n.State)

	assert.Equal(t, []string{"a", "b", "c", "d"}, workflow.SortedIDs(g.Nodes()))
	assert.Equal(t, []string{"c"}, g.Dependents("a"))
	assert.Equal(t, []string{"a", "b"}, g.Dependencies("c"))
	assert.Equal(t, []string{"c", "d"}, g.Descendants("b"))
	assert.Empty(t, g.Descendants("d"))
}

func TestLevelsAreTopological(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 50; round++ {
		n := 2 + rng.IntN(20)
		var ids []string
		for i := 0; i < n; i++ {
			ids = append(ids, fmt.Sprintf("n%02d", i))
		}
		// edges only go from lower to higher index, so the graph is acyclic
		var edges []analyzer.Edge
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rng.IntN(4) == 0 {
					edges = append(edges, edge(ids[i], ids[j]))
				}
			}
		}
		// shuffle input order; the partition must not depend on it
		shuffled := append([]string(nil), ids...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		g, err := Build(steps(ids...), edges)
		require.NoError(t, err)
		again, err := Build(steps(shuffled...), edges)
		require.NoError(t, err)
		assert.Equal(t, g.Levels(), again.Levels())

		for _, e := range edges {
			assert.Less(t, g.Level(e.From), g.Level(e.To), "edge %s", e)
		}

		placed := 0
		for _, level := range g.Levels() {
			placed += len(level)
			assert.IsIncreasing(t, level)
		}
		assert.Equal(t, n, placed)

		// reduction keeps reachability
		for _, e := range edges {
			assert.Contains(t, g.Descendants(e.From), e.To)
		}
	}
}

func TestCycle(t *testing.T) {
	_, err := Build(steps("a", "b", "c", "d"), []analyzer.Edge{
		edge("a", "b"),
		edge("b", "c"),
		edge("c", "a"),
		edge("d", "a"),
	})
	require.Error(t, err)

	var cycle *flowerrors.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b", "c"}, cycle.Nodes)
	assert.Equal(t, []string{"b", "c", "a", "b"}, cycle.Path)
	assert.ErrorIs(t, err, flowerrors.DependencyCycle)
	assert.True(t, flowerrors.IsValidation(err))
	assert.Equal(t, "dependency cycle: b -> c -> a -> b", err.Error())

	_, err = Build(steps("a"), []analyzer.Edge{edge("a", "a")})
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "a"}, cycle.Path)
}

func TestBuildValidation(t *testing.T) {
	_, err := Build(steps("a", "a"), nil)
	assert.True(t, flowerrors.IsValidation(err))

	_, err = Build(steps("a"), []analyzer.Edge{edge("a", "ghost")})
	assert.True(t, flowerrors.IsValidation(err))

	_, err = Build([]workflow.Step{{Kind: workflow.KindShell}}, nil)
	assert.True(t, flowerrors.IsValidation(err))
}

func TestTransitiveReduction(t *testing.T) {
	reduced, err := Build(steps("A", "B", "C"), []analyzer.Edge{edge("A", "B"), edge("B", "C"), edge("A", "C")})
	require.NoError(t, err)
	plain, err := Build(steps("A", "B", "C"), []analyzer.Edge{edge("A", "B"), edge("B", "C")})
	require.NoError(t, err)

	assert.Equal(t, plain.Levels(), reduced.Levels())
	assert.Equal(t, []analyzer.Edge{edge("A", "B"), edge("B", "C")}, reduced.Edges())
	assert.Equal(t, []analyzer.Edge{edge("A", "C")}, reduced.RemovedEdges())

	c, _ := reduced.Node("C")
	assert.Equal(t, []string{"B"}, c.DependsOn)
}

func TestDuplicateEdgesCollapse(t *testing.T) {
	g, err := Build(steps("a", "b"), []analyzer.Edge{
		edge("a", "b"),
		{From: "a", To: "b", Type: analyzer.EdgeFileCreation},
	})
	require.NoError(t, err)
	require.Len(t, g.Edges(), 1)
	assert.Equal(t, analyzer.EdgeExecOrder, g.Edges()[0].Type)
	assert.Empty(t, g.RemovedEdges())
}

func TestStats(t *testing.T) {
	g, err := Build(steps("a", "b", "c", "d"), []analyzer.Edge{
		edge("a", "b"),
		edge("a", "c"),
		{From: "b", To: "d", Type: analyzer.EdgeFileCreation},
		{From: "c", To: "d", Type: analyzer.EdgeFileCreation},
		edge("a", "d"),
	})
	require.NoError(t, err)

	assert.Equal(t, Stats{
		Nodes:         4,
		Edges:         4,
		RemovedEdges:  1,
		Levels:        3,
		MaxLevelWidth: 2,
		MaxInDegree:   2,
		MaxOutDegree:  2,
		EdgesByType: map[analyzer.EdgeType]int{
			analyzer.EdgeExecOrder:    2,
			analyzer.EdgeFileCreation: 2,
		},
	}, g.Stats())
}

func TestWriteDOT(t *testing.T) {
	nodes := steps("a", "b")
	nodes = append(nodes, workflow.Step{
		ID: "mkdir:/out", Name: "create /out", Kind: workflow.KindFile,
		FileOp: workflow.FileMkdir, Command: []string{"/out"}, Generated: true,
	})
	g, err := Build(nodes, []analyzer.Edge{edge("mkdir:/out", "a"), edge("a", "b")})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, g.WriteDOT(&buf))
	dot := buf.String()

	assert.Contains(t, dot, "digraph workflow {")
	assert.Contains(t, dot, "subgraph cluster_level_0 {")
	assert.Contains(t, dot, "subgraph cluster_level_2 {")
	assert.Contains(t, dot, `"mkdir:/out" [label="create /out", style=dashed];`)
	assert.Contains(t, dot, `"a" -> "b" [label="exec_order"];`)
}

func TestReadRemoveRewriteRunsInListOrder(t *testing.T) {
	a, err := analyzer.Analyze([]workflow.Step{
		{ID: "a", Kind: workflow.KindShell, Command: []string{"cat f.txt"}, WorkingDirectory: "/ws"},
		{ID: "b", Kind: workflow.KindFile, FileOp: workflow.FileRemove, Command: []string{"f.txt"}, WorkingDirectory: "/ws"},
		{ID: "c", Kind: workflow.KindShell, Command: []string{"echo x > f.txt"}, WorkingDirectory: "/ws"},
	})
	require.NoError(t, err)

	g, err := Build(a.Steps, a.Edges)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, g.Levels())
	require.Len(t, g.RemovedEdges(), 1)
	assert.Equal(t, analyzer.EdgeOverwrite, g.RemovedEdges()[0].Type)
}
