package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/workflow"
)

func TestLex(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"echo hi > out.txt", []string{"echo", "hi", ">", "out.txt"}},
		{"echo hi >out.txt", []string{"echo", "hi", ">out.txt"}},
		{"echo hi >> log", []string{"echo", "hi", ">>", "log"}},
		{"make 2>&1 | tee log", []string{"make", "2>&1", "|", "tee", "log"}},
		{"a && b || c; d", []string{"a", "&&", "b", "||", "c", ";", "d"}},
		{"echo 'a > b' > \"my file\"", []string{"echo", "a > b", ">", "my file"}},
		{`echo a\ b`, []string{"echo", "a b"}},
		{"run &> all.log", []string{"run", "&>", "all.log"}},
		{"sleep 1 &", []string{"sleep", "1", "&"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, lex(tt.line))
		})
	}
}

func TestInferShell(t *testing.T) {
	tests := []struct {
		name    string
		cmd     []string
		reads   []string
		writes  []string
		creates []string
	}{
		{name: "redirect", cmd: []string{"echo hi > out.txt"}, writes: []string{"out.txt"}},
		{name: "append glued", cmd: []string{"echo hi >>log.txt"}, writes: []string{"log.txt"}},
		{name: "input", cmd: []string{"sort < in.txt"}, reads: []string{"in.txt"}},
		{name: "pipeline", cmd: []string{"cat a.txt | sort > b.txt"}, reads: []string{"a.txt"}, writes: []string{"b.txt"}},
		{name: "mkdir then touch", cmd: []string{"mkdir -p build && touch build/x"}, writes: []string{"build/x"}, creates: []string{"build"}},
		{name: "fd dup is not a file", cmd: []string{"make 2>&1"}},
		{name: "stderr file", cmd: []string{"make 2> err.log"}, writes: []string{"err.log"}},
		{name: "both streams", cmd: []string{"run &> all.log"}, writes: []string{"all.log"}},
		{name: "assignment prefix", cmd: []string{"FOO=1 touch f"}, writes: []string{"f"}},
		{name: "variables skipped", cmd: []string{"cat $HOME/x *.txt"}},
		{name: "argv", cmd: []string{"touch", "a", "b"}, writes: []string{"a", "b"}},
		{name: "argv path to binary", cmd: []string{"/usr/bin/cat", "in"}, reads: []string{"in"}},
		{name: "unknown command", cmd: []string{"g++ main.cpp -o main"}},
		{name: "discarded stderr", cmd: []string{"ls missing 2>/dev/null"}},
		{name: "discarded stdout", cmd: []string{"echo hi > /dev/null"}},
		{name: "std streams", cmd: []string{"echo hi >/dev/stderr && cat /dev/stdin > /dev/stdout"}},
		{name: "fd path", cmd: []string{"diff a.txt - < /dev/fd/3 >> log.txt"}, writes: []string{"log.txt"}},
		{name: "argv device", cmd: []string{"touch", "/dev/null", "x"}, writes: []string{"x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := inferShell(tt.cmd)
			assert.Equal(t, tt.reads, acc.reads)
			assert.Equal(t, tt.writes, acc.writes)
			assert.Equal(t, tt.creates, acc.creates)
		})
	}
}

func TestExtract(t *testing.T) {
	move := Extract(workflow.Step{
		Kind: workflow.KindFile, FileOp: workflow.FileMove,
		Command: []string{"a", "/abs/b"}, WorkingDirectory: "/w",
	})
	assert.Equal(t, []string{"/w/a"}, move.Reads)
	assert.Equal(t, []string{"/w/a"}, move.Deletes)
	assert.Equal(t, []string{"/abs/b"}, move.Writes)

	declared := Extract(workflow.Step{
		Kind: workflow.KindContainer, Container: &workflow.ContainerSpec{Image: "gcc"},
		Reads: []string{"src/main.c"}, Writes: []string{"./bin/main"}, WorkingDirectory: "/w",
	})
	assert.Equal(t, []string{"/w/src/main.c"}, declared.Reads)
	assert.Equal(t, []string{"/w/bin/main"}, declared.Writes)

	composite := Extract(workflow.Step{
		Kind:             workflow.KindComposite,
		WorkingDirectory: "/w",
		Children: []workflow.Step{
			{Kind: workflow.KindShell, Command: []string{"touch x"}},
			{Kind: workflow.KindShell, Command: []string{"cat y"}, WorkingDirectory: "/other"},
		},
	})
	assert.Equal(t, []string{"/w/x"}, composite.Writes)
	assert.Equal(t, []string{"/other/y"}, composite.Reads)

	script := Extract(workflow.Step{
		Kind: workflow.KindScript, Script: &workflow.ScriptSpec{Interpreter: "python3"},
		Command: []string{"gen.py", "--out", "data"},
	})
	assert.Equal(t, []string{"gen.py"}, script.Reads)
}

func TestConcreteScenarioEdges(t *testing.T) {
	a, err := Analyze([]workflow.Step{
		{Kind: workflow.KindFile, FileOp: workflow.FileMkdir, Command: []string{"out"}},
		{Kind: workflow.KindFile, FileOp: workflow.FileWrite, Command: []string{"out/a.txt"}, Content: "A"},
		{Kind: workflow.KindFile, FileOp: workflow.FileCopy, Command: []string{"out/a.txt", "out/b.txt"}},
	})
	require.NoError(t, err)
	require.Len(t, a.Steps, 3)

	type pair struct {
		from, to string
		typ      EdgeType
	}
	var got []pair
	for _, e := range a.Edges {
		got = append(got, pair{e.From, e.To, e.Type})
	}
	assert.Equal(t, []pair{
		{"step-000", "step-001", EdgeDirCreation},
		{"step-000", "step-002", EdgeDirCreation},
		{"step-001", "step-002", EdgeFileCreation},
	}, got)
	assert.Equal(t, "out/a.txt", a.Edges[2].Resource)
	assert.Equal(t, []string{"out"}, a.Resources["step-000"].Creates)
}

func TestParentDirectorySynthesis(t *testing.T) {
	t.Run("shared parent gets one mkdir", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "cfg", Kind: workflow.KindShell, Command: []string{"echo cfg"}},
			{ID: "x", Kind: workflow.KindFile, FileOp: workflow.FileTouch, Command: []string{"out/x"}, WorkingDirectory: "/ws"},
			{ID: "y", Kind: workflow.KindFile, FileOp: workflow.FileWrite, Command: []string{"out/y"}, WorkingDirectory: "/ws"},
		})
		require.NoError(t, err)
		require.Len(t, a.Steps, 4)

		gen := a.Steps[1]
		assert.Equal(t, SyntheticID("/ws/out"), gen.ID)
		assert.True(t, gen.Generated)
		assert.True(t, gen.AllowFailure)
		assert.Equal(t, workflow.FileMkdir, gen.FileOp)
		assert.Equal(t, []string{"/ws/out"}, gen.Command)

		require.Len(t, a.Edges, 2)
		for _, e := range a.Edges {
			assert.Equal(t, "mkdir:/ws/out", e.From)
			assert.Equal(t, EdgeParentDir, e.Type)
		}
		assert.Equal(t, "x", a.Edges[0].To)
		assert.Equal(t, "y", a.Edges[1].To)
	})

	t.Run("working directory is assumed to exist", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "x", Kind: workflow.KindFile, FileOp: workflow.FileTouch, Command: []string{"x"}, WorkingDirectory: "/ws"},
			{ID: "y", Kind: workflow.KindFile, FileOp: workflow.FileTouch, Command: []string{"y"}, WorkingDirectory: "/ws"},
		})
		require.NoError(t, err)
		assert.Len(t, a.Steps, 2)
		assert.Empty(t, a.Edges)
	})

	t.Run("single writer needs nothing", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "x", Kind: workflow.KindFile, FileOp: workflow.FileTouch, Command: []string{"/ws/out/x"}},
		})
		require.NoError(t, err)
		assert.Len(t, a.Steps, 1)
	})

	t.Run("created directory is not synthesized", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "mk", Kind: workflow.KindShell, Command: []string{"mkdir -p /ws/out"}},
			{ID: "x", Kind: workflow.KindFile, FileOp: workflow.FileTouch, Command: []string{"/ws/out/x"}},
			{ID: "y", Kind: workflow.KindFile, FileOp: workflow.FileTouch, Command: []string{"/ws/out/y"}},
		})
		require.NoError(t, err)
		assert.Len(t, a.Steps, 3)
		require.Len(t, a.Edges, 2)
		assert.Equal(t, EdgeDirCreation, a.Edges[0].Type)
	})
}

func TestResourceConflict(t *testing.T) {
	steps := []workflow.Step{
		{ID: "a", Kind: workflow.KindShell, Command: []string{"echo a > out.txt"}},
		{ID: "b", Kind: workflow.KindShell, Command: []string{"echo b > out.txt"}},
	}
	_, err := Analyze(steps)
	require.Error(t, err)
	assert.Equal(t, flowerrors.ErrResourceConflict, flowerrors.GetCode(err))
	assert.True(t, flowerrors.IsValidation(err))
	assert.Contains(t, err.Error(), "out.txt")
	assert.Equal(t, "out.txt", flowerrors.GetContext(err)["resource"])

	steps[1].After = []string{"a"}
	a, err := Analyze(steps)
	require.NoError(t, err)
	require.Len(t, a.Edges, 1)
	assert.Equal(t, EdgeExecOrder, a.Edges[0].Type)

	// output thrown away on device files is not a shared resource
	silenced, err := Analyze([]workflow.Step{
		{ID: "a", Kind: workflow.KindShell, Command: []string{"ls missing 2>/dev/null"}, WorkingDirectory: "/ws"},
		{ID: "b", Kind: workflow.KindShell, Command: []string{"echo hi >/dev/null"}, WorkingDirectory: "/ws"},
		{ID: "c", Kind: workflow.KindShell, Command: []string{"make > /dev/null 2>&1"}, WorkingDirectory: "/ws"},
	})
	require.NoError(t, err)
	assert.Len(t, silenced.Steps, 3)
	assert.Empty(t, silenced.Edges)

	// ordered through an intermediate step
	chained := []workflow.Step{
		{ID: "a", Kind: workflow.KindShell, Command: []string{"echo a > out.txt"}},
		{ID: "m", Kind: workflow.KindShell, Command: []string{"echo m"}, After: []string{"a"}},
		{ID: "b", Kind: workflow.KindShell, Command: []string{"echo b > out.txt"}, After: []string{"m"}},
	}
	_, err = Analyze(chained)
	assert.NoError(t, err)
}

func TestExplicitEdges(t *testing.T) {
	t.Run("replaces same-direction inferred edge", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "w", Kind: workflow.KindShell, Command: []string{"touch f"}},
			{ID: "r", Kind: workflow.KindShell, Command: []string{"cat f"}, After: []string{"w"}},
		})
		require.NoError(t, err)
		require.Len(t, a.Edges, 1)
		assert.Equal(t, Edge{From: "w", To: "r", Type: EdgeExecOrder, Description: "r declared after w"}, a.Edges[0])
	})

	t.Run("reversed pair is kept", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "w", Kind: workflow.KindShell, Command: []string{"touch f"}, After: []string{"r"}},
			{ID: "r", Kind: workflow.KindShell, Command: []string{"cat f"}},
		})
		require.NoError(t, err)
		require.Len(t, a.Edges, 2)
		assert.Equal(t, "r -> w (exec_order)", a.Edges[0].String())
		assert.Equal(t, "w -> r (file_creation)", a.Edges[1].String())
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := Analyze([]workflow.Step{
			{ID: "a", Kind: workflow.KindShell, Command: []string{"true"}, After: []string{"ghost"}},
		})
		assert.True(t, flowerrors.IsValidation(err))
	})
}

func TestDeletionEdges(t *testing.T) {
	t.Run("list order", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "before", Kind: workflow.KindShell, Command: []string{"cat /d/x"}},
			{ID: "rm", Kind: workflow.KindFile, FileOp: workflow.FileRemoveTree, Command: []string{"/d"}},
			{ID: "after", Kind: workflow.KindShell, Command: []string{"cat /d/x"}},
			{ID: "elsewhere", Kind: workflow.KindShell, Command: []string{"cat /e/x"}},
		})
		require.NoError(t, err)
		require.Len(t, a.Edges, 2)
		assert.Equal(t, Edge{From: "before", To: "rm", Type: EdgeDeletion, Resource: "/d", Description: "rm deletes /d"}, a.Edges[0])
		assert.Equal(t, Edge{From: "rm", To: "after", Type: EdgeDeletion, Resource: "/d", Description: "rm deletes /d"}, a.Edges[1])
	})

	t.Run("already ordered pairs are skipped", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "reader", Kind: workflow.KindShell, Command: []string{"cat /d/x"}, After: []string{"rm"}},
			{ID: "rm", Kind: workflow.KindFile, FileOp: workflow.FileRemove, Command: []string{"/d/x"}},
		})
		require.NoError(t, err)
		require.Len(t, a.Edges, 1)
		assert.Equal(t, "rm -> reader (exec_order)", a.Edges[0].String())
	})
}

func TestListOrder(t *testing.T) {
	t.Run("read then overwrite keeps the read first", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "a-show-old", Kind: workflow.KindShell, Command: []string{"cat result.txt"}, WorkingDirectory: "/ws"},
			{ID: "b-overwrite", Kind: workflow.KindShell, Command: []string{"echo new > result.txt"}, WorkingDirectory: "/ws"},
		})
		require.NoError(t, err)
		assert.Equal(t, []Edge{{
			From:        "a-show-old",
			To:          "b-overwrite",
			Type:        EdgeOverwrite,
			Resource:    "/ws/result.txt",
			Description: "b-overwrite rewrites /ws/result.txt read by a-show-old",
		}}, a.Edges)
	})

	t.Run("read remove rewrite", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "a", Kind: workflow.KindShell, Command: []string{"cat f.txt"}, WorkingDirectory: "/ws"},
			{ID: "b", Kind: workflow.KindFile, FileOp: workflow.FileRemove, Command: []string{"f.txt"}, WorkingDirectory: "/ws"},
			{ID: "c", Kind: workflow.KindShell, Command: []string{"echo x > f.txt"}, WorkingDirectory: "/ws"},
		})
		require.NoError(t, err)
		var got []string
		for _, e := range a.Edges {
			got = append(got, e.String())
		}
		assert.Equal(t, []string{
			"a -> b (deletion)",
			"a -> c (overwrite)",
			"b -> c (deletion)",
		}, got)
	})

	t.Run("directory created later orders nothing", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "x", Kind: workflow.KindFile, FileOp: workflow.FileTouch, Command: []string{"out/x"}, WorkingDirectory: "/ws"},
			{ID: "mk", Kind: workflow.KindFile, FileOp: workflow.FileMkdir, Command: []string{"out"}, WorkingDirectory: "/ws"},
		})
		require.NoError(t, err)
		assert.Empty(t, a.Edges)
	})

	t.Run("explicit reverse order wins over overwrite", func(t *testing.T) {
		a, err := Analyze([]workflow.Step{
			{ID: "r", Kind: workflow.KindShell, Command: []string{"cat f"}, WorkingDirectory: "/ws", After: []string{"w"}},
			{ID: "w", Kind: workflow.KindShell, Command: []string{"touch f"}, WorkingDirectory: "/ws"},
		})
		require.NoError(t, err)
		require.Len(t, a.Edges, 1)
		assert.Equal(t, "w -> r (exec_order)", a.Edges[0].String())
	})
}

func TestAnalyzeValidation(t *testing.T) {
	_, err := Analyze([]workflow.Step{
		{ID: "a", Kind: workflow.KindShell, Command: []string{"true"}},
		{ID: "a", Kind: workflow.KindShell, Command: []string{"false"}},
	})
	assert.True(t, flowerrors.IsValidation(err))

	_, err = Analyze([]workflow.Step{{ID: "a", Kind: workflow.KindShell}})
	assert.True(t, flowerrors.IsValidation(err))

	a, err := Analyze([]workflow.Step{{Kind: workflow.KindShell, Command: []string{"true"}}, {ID: "named", Kind: workflow.KindShell, Command: []string{"true"}}})
	require.NoError(t, err)
	assert.Equal(t, "step-000", a.Steps[0].ID)
	assert.Equal(t, "named", a.Steps[1].ID)
}
