package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/contestflow/driver"
	"github.com/davidroman0O/contestflow/driver/drivertest"
	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/retry"
	"github.com/davidroman0O/contestflow/workflow"
)

var transient = flowerrors.New(flowerrors.ErrTransientIO, "resource busy")

func policy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:       attempts,
		BaseDelay:         time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		BackoffMultiplier: 2,
		Classifier: &retry.CategoryClassifier{
			Retry: []flowerrors.Category{flowerrors.CategoryTransientIO, flowerrors.CategoryTimeout},
		},
	}
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newEngine(t *testing.T, d driver.Drivers, opts Options) *Engine {
	t.Helper()
	if opts.Retry.Classifier == nil {
		opts.Retry = policy(1)
	}
	opts.Sleep = noSleep
	e, err := New(d, opts)
	require.NoError(t, err)
	return e
}

func shellStep(id, cmd string, after ...string) workflow.Step {
	return workflow.Step{ID: id, Kind: workflow.KindShell, Command: []string{cmd}, After: after}
}

func failing(code int) drivertest.Outcome {
	return drivertest.Outcome{
		Output: driver.Output{ExitCode: code, Stderr: "boom"},
		Err:    driver.NewCommandError([]string{"x"}, driver.Output{ExitCode: code, Stderr: "boom"}, &driver.ExitError{Code: code}),
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(driver.Drivers{}, Options{})
	assert.True(t, flowerrors.IsValidation(err), "a policy without classifier is rejected")

	_, err = New(driver.Drivers{}, Options{Retry: policy(1), MaxWorkers: -1})
	assert.True(t, flowerrors.IsValidation(err))

	_, err = New(driver.Drivers{}, Options{Retry: policy(1), NodeTimeout: -time.Second})
	assert.True(t, flowerrors.IsValidation(err))
}

func TestConcreteScenario(t *testing.T) {
	dir := t.TempDir()
	steps := []workflow.Step{
		{Kind: workflow.KindFile, FileOp: workflow.FileMkdir, Command: []string{"out"}, WorkingDirectory: dir},
		{Kind: workflow.KindFile, FileOp: workflow.FileWrite, Command: []string{"out/a.txt"}, Content: "A", WorkingDirectory: dir},
		{Kind: workflow.KindFile, FileOp: workflow.FileCopy, Command: []string{"out/a.txt", "out/b.txt"}, WorkingDirectory: dir},
	}

	for _, parallel := range []bool{false, true} {
		e := newEngine(t, driver.NewLocal(nil), Options{Parallel: parallel, MaxWorkers: 4})
		plan, err := e.Plan(steps)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"step-000"}, {"step-001"}, {"step-002"}}, plan.Graph.Levels())

		res, err := e.Run(context.Background(), plan)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Empty(t, res.SkippedNodeIDs)
		require.Len(t, res.Results, 3)
		assert.Equal(t, "step-002", res.Results[2].NodeID)

		data, err := os.ReadFile(filepath.Join(dir, "out", "b.txt"))
		require.NoError(t, err)
		assert.Equal(t, "A", string(data))
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	for _, k := range []int{1, 2, 4} {
		t.Run("succeeds with k+1 attempts", func(t *testing.T) {
			shell := drivertest.NewShell().FailTimes("flaky", k, transient)
			e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{Retry: policy(k + 1)})

			res, err := e.RunSteps(context.Background(), []workflow.Step{shellStep("a", "flaky")})
			require.NoError(t, err)
			assert.True(t, res.Success)

			r, ok := res.Result("a")
			require.True(t, ok)
			assert.True(t, r.Success)
			assert.Equal(t, k+1, r.Attempts)
			assert.Equal(t, "ok", r.Stdout)
			assert.Equal(t, workflow.StateSucceeded, res.States["a"])
		})

		t.Run("exhausts with k attempts", func(t *testing.T) {
			shell := drivertest.NewShell().FailTimes("flaky", k, transient)
			e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{Retry: policy(k)})

			res, err := e.RunSteps(context.Background(), []workflow.Step{shellStep("a", "flaky")})
			require.NoError(t, err)
			assert.False(t, res.Success)

			r, _ := res.Result("a")
			assert.False(t, r.Success)
			assert.Equal(t, k, r.Attempts)
			assert.True(t, errors.Is(r.Error, flowerrors.RetryExhausted))
			assert.Equal(t, workflow.StateFailed, res.States["a"])
			assert.Equal(t, k, shell.CallCount("flaky"))
		})
	}
}

func TestNonRetryableFailsFast(t *testing.T) {
	shell := drivertest.NewShell().On("bad", failing(2))
	e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{Retry: policy(5)})

	res, err := e.RunSteps(context.Background(), []workflow.Step{shellStep("a", "bad")})
	require.NoError(t, err)

	r, _ := res.Result("a")
	assert.Equal(t, 1, r.Attempts)
	assert.Equal(t, 2, r.ExitCode)
	assert.Equal(t, flowerrors.CategoryExecution, flowerrors.CategoryOf(r.Error))
	assert.Equal(t, 1, shell.CallCount("bad"))
}

func TestSkipPropagation(t *testing.T) {
	shell := drivertest.NewShell().On("a", failing(1))
	e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{})

	res, err := e.RunSteps(context.Background(), []workflow.Step{
		shellStep("a", "a"),
		shellStep("b", "b", "a"),
		shellStep("c", "c", "b"),
		shellStep("d", "d"),
		shellStep("e", "e", "d"),
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, workflow.StateFailed, res.States["a"])
	assert.Equal(t, workflow.StateSkipped, res.States["b"])
	assert.Equal(t, workflow.StateSkipped, res.States["c"])
	assert.Equal(t, workflow.StateSucceeded, res.States["d"])
	assert.Equal(t, workflow.StateSucceeded, res.States["e"])
	assert.Equal(t, []string{"b", "c"}, res.SkippedNodeIDs)
	assert.Zero(t, shell.CallCount("b"))
	assert.Zero(t, shell.CallCount("c"))

	_, ran := res.Result("b")
	assert.False(t, ran)

	rec, err := e.Ledger().Record(res.RunID, "c")
	require.NoError(t, err)
	assert.Equal(t, "skipped", rec.State)
	assert.Equal(t, "dependency a failed", rec.Reason)
	assert.Nil(t, rec.StartedAt)
}

func TestSequentialParallelParity(t *testing.T) {
	steps := []workflow.Step{
		shellStep("fetch", "fetch"),
		shellStep("lint", "lint"),
		shellStep("compile", "compile", "fetch"),
		shellStep("vet", "vet", "fetch"),
		shellStep("test", "test", "compile", "vet"),
		shellStep("docs", "docs", "lint"),
		shellStep("package", "package", "test", "docs"),
		shellStep("notify", "notify", "lint"),
	}
	script := func() *drivertest.Shell {
		return drivertest.NewShell().
			On("vet", failing(1)).
			On("compile", drivertest.Outcome{Delay: 5 * time.Millisecond}).
			On("docs", drivertest.Outcome{Delay: 5 * time.Millisecond}).
			FailTimes("lint", 1, transient)
	}

	seq := newEngine(t, drivertest.Drivers(script(), nil, nil), Options{Retry: policy(2)})
	seqRes, err := seq.RunSteps(context.Background(), steps)
	require.NoError(t, err)

	parShell := script()
	par := newEngine(t, drivertest.Drivers(parShell, nil, nil), Options{Retry: policy(2), Parallel: true, MaxWorkers: 2})
	parRes, err := par.RunSteps(context.Background(), steps)
	require.NoError(t, err)

	assert.Equal(t, seqRes.States, parRes.States)
	assert.Equal(t, seqRes.Success, parRes.Success)
	assert.Equal(t, seqRes.SkippedNodeIDs, parRes.SkippedNodeIDs)
	assert.Equal(t, workflow.StateSkipped, parRes.States["package"])
	assert.Equal(t, workflow.StateSucceeded, parRes.States["notify"])
	assert.LessOrEqual(t, parShell.Peak(), 2)

	var seqIDs, parIDs []string
	for _, r := range seqRes.Results {
		seqIDs = append(seqIDs, r.NodeID)
	}
	for _, r := range parRes.Results {
		parIDs = append(parIDs, r.NodeID)
	}
	assert.Equal(t, seqIDs, parIDs, "results are ordered by level then id in both modes")
}

func TestParallelLevelRunsConcurrently(t *testing.T) {
	shell := drivertest.NewShell()
	var steps []workflow.Step
	for _, id := range []string{"a", "b", "c", "d"} {
		shell.On(id, drivertest.Outcome{Delay: 20 * time.Millisecond})
		steps = append(steps, shellStep(id, id))
	}
	e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{Parallel: true, MaxWorkers: 3})

	res, err := e.RunSteps(context.Background(), steps)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, shell.Peak())
}

func TestAllowFailure(t *testing.T) {
	shell := drivertest.NewShell().On("optional", failing(1))
	e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{})

	optional := shellStep("a", "optional")
	optional.AllowFailure = true
	res, err := e.RunSteps(context.Background(), []workflow.Step{optional, shellStep("b", "b", "a")})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, workflow.StateFailed, res.States["a"])
	assert.Equal(t, workflow.StateSucceeded, res.States["b"])
	assert.Equal(t, []string{"a"}, res.FailedNodeIDs())

	r, _ := res.Result("a")
	assert.True(t, r.AllowedFailure)
}

func TestConditionSkip(t *testing.T) {
	shell := drivertest.NewShell()
	e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{})

	gated := shellStep("a", "a")
	gated.Condition = workflow.ConditionFunc(func(context.Context) (bool, error) { return false, nil })
	broken := shellStep("c", "c")
	broken.Condition = workflow.ConditionFunc(func(context.Context) (bool, error) { return false, errors.New("stat failed") })

	res, err := e.RunSteps(context.Background(), []workflow.Step{gated, shellStep("b", "b", "a"), broken, shellStep("d", "d", "c")})
	require.NoError(t, err)

	assert.Equal(t, workflow.StateSkipped, res.States["a"])
	assert.Equal(t, workflow.StateSucceeded, res.States["b"], "a false condition does not propagate")
	assert.Equal(t, workflow.StateFailed, res.States["c"])
	assert.Equal(t, workflow.StateSkipped, res.States["d"])
	assert.Zero(t, shell.CallCount("a"))
	assert.Zero(t, shell.CallCount("c"))
	assert.False(t, res.Success)

	rec, err := e.Ledger().Record(res.RunID, "a")
	require.NoError(t, err)
	assert.Contains(t, rec.Reason, "condition")
}

func TestNodeTimeout(t *testing.T) {
	shell := drivertest.NewShell().On("slow", drivertest.Outcome{Delay: 5 * time.Second})
	e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{NodeTimeout: 20 * time.Millisecond, Retry: policy(2)})

	start := time.Now()
	res, err := e.RunSteps(context.Background(), []workflow.Step{shellStep("a", "slow"), shellStep("b", "b", "a")})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	r, _ := res.Result("a")
	assert.True(t, flowerrors.IsTimeout(r.Error))
	assert.True(t, errors.Is(r.Error, flowerrors.RetryExhausted))
	assert.Equal(t, 2, r.Attempts, "timeouts are retried per attempt")
	assert.Equal(t, workflow.StateSkipped, res.States["b"])

	calls := shell.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, 20*time.Millisecond, calls[0].Timeout)
}

func TestStepTimeoutOverridesDefault(t *testing.T) {
	shell := drivertest.NewShell()
	e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{NodeTimeout: time.Minute})

	s := shellStep("a", "a")
	s.Timeout = time.Second
	_, err := e.RunSteps(context.Background(), []workflow.Step{s})
	require.NoError(t, err)
	assert.Equal(t, time.Second, shell.Calls()[0].Timeout)
}

func TestCancellation(t *testing.T) {
	shell := drivertest.NewShell().On("slow", drivertest.Outcome{Delay: 5 * time.Second})
	e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := e.RunSteps(ctx, []workflow.Step{
		shellStep("a", "slow"),
		shellStep("b", "b", "a"),
		shellStep("c", "c", "z"),
		shellStep("z", "slow"),
	})
	require.Error(t, err)
	assert.True(t, flowerrors.IsCancelled(err))
	require.NotNil(t, res)
	assert.False(t, res.Success)

	for _, id := range []string{"b", "c"} {
		assert.Equal(t, workflow.StateSkipped, res.States[id])
	}
	for id, state := range res.States {
		assert.True(t, state.IsTerminal(), "node %s ended %s", id, state)
	}
	assert.Zero(t, shell.CallCount("b"))
}

func TestPlanErrors(t *testing.T) {
	shell := drivertest.NewShell()

	t.Run("cycle", func(t *testing.T) {
		e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{})
		_, err := e.Plan([]workflow.Step{shellStep("a", "a", "b"), shellStep("b", "b", "a")})
		var cycle *flowerrors.CycleError
		require.ErrorAs(t, err, &cycle)
		assert.Contains(t, cycle.Nodes, "a")
		assert.Zero(t, len(shell.Calls()))
	})

	t.Run("missing driver", func(t *testing.T) {
		e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{})
		_, err := e.Plan([]workflow.Step{{
			ID:        "box",
			Kind:      workflow.KindContainer,
			Command:   []string{"true"},
			Container: &workflow.ContainerSpec{Image: "alpine"},
		}})
		assert.True(t, flowerrors.IsValidation(err))
	})

	t.Run("conflicting writers", func(t *testing.T) {
		e := newEngine(t, drivertest.Drivers(shell, drivertest.NewFile(), nil), Options{})
		_, err := e.Plan([]workflow.Step{
			{ID: "a", Kind: workflow.KindFile, FileOp: workflow.FileTouch, Command: []string{"/w/x"}},
			{ID: "b", Kind: workflow.KindFile, FileOp: workflow.FileWrite, Command: []string{"/w/x"}},
		})
		assert.Equal(t, flowerrors.ErrResourceConflict, flowerrors.GetCode(err))
	})
}

func TestPlanRunsTwice(t *testing.T) {
	shell := drivertest.NewShell()
	e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{})
	plan, err := e.Plan([]workflow.Step{shellStep("a", "a"), shellStep("b", "b", "a")})
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Leaves())

	first, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), plan)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.States, second.States)
	assert.Equal(t, 2, shell.CallCount("a"))

	rec, err := e.Ledger().Record(second.RunID, "b")
	require.NoError(t, err)
	assert.Equal(t, second.RunID, rec.RunID)
	assert.Len(t, e.Ledger().Run(first.RunID), 2)
	assert.Len(t, e.Ledger().Records(), 4)
	assert.Equal(t, "succeeded", rec.State)
	assert.NotNil(t, rec.FinishedAt)
}

func TestConcurrentRunsKeepSeparateRecords(t *testing.T) {
	shell := drivertest.NewShell().On("slow", drivertest.Outcome{Delay: 20 * time.Millisecond})
	e := newEngine(t, drivertest.Drivers(shell, nil, nil), Options{Parallel: true})
	plan, err := e.Plan([]workflow.Step{shellStep("a", "slow"), shellStep("b", "b", "a")})
	require.NoError(t, err)

	results := make([]*workflow.WorkflowResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Run(context.Background(), plan)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Len(t, e.Ledger().Records(), 4)
	for _, res := range results {
		recs := e.Ledger().Run(res.RunID)
		require.Len(t, recs, 2)
		for _, rec := range recs {
			assert.Equal(t, "succeeded", rec.State, rec.NodeID)
			assert.Equal(t, 1, rec.Attempts, rec.NodeID)
		}
	}
}
