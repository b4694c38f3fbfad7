package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/ledger"
	"github.com/davidroman0O/contestflow/retry"
	"github.com/davidroman0O/contestflow/workflow"
)

// run is the mutable state of one execution of a plan. Nodes are cloned
// from the graph so a plan can be run more than once.
type run struct {
	e      *Engine
	plan   *Plan
	id     string
	logger workflow.Logger

	mu      sync.Mutex
	nodes   map[string]*workflow.Node
	results map[string]workflow.ExecutionResult
}

// Run executes plan. Node failures are reported in the result, not as an
// error; the error is non-nil only when ctx ends before the run completes,
// in which case the partial result is returned alongside it.
func (e *Engine) Run(ctx context.Context, plan *Plan) (*workflow.WorkflowResult, error) {
	start := time.Now()
	r := &run{
		e:       e,
		plan:    plan,
		id:      uuid.NewString(),
		nodes:   make(map[string]*workflow.Node, plan.Graph.Len()),
		results: make(map[string]workflow.ExecutionResult, plan.Graph.Len()),
	}
	r.logger = e.logger

	for _, n := range plan.Graph.Nodes() {
		clone := &workflow.Node{
			ID:        n.ID,
			Step:      n.Step,
			DependsOn: append([]string(nil), n.DependsOn...),
			State:     workflow.StatePending,
		}
		r.nodes[n.ID] = clone
		if err := e.ledger.Register(r.id, clone, plan.Graph.Level(n.ID)); err != nil {
			r.logger.Warn("Ledger register %s: %v", n.ID, err)
		}
	}

	levels := plan.Graph.Levels()
	r.logger.Info("Run %s: %d nodes in %d levels", r.id, len(r.nodes), len(levels))

	for i, level := range levels {
		if ctx.Err() != nil {
			break
		}
		r.logger.Debug("Level %d: %v", i, level)
		r.level(ctx, level)
	}

	cancelled := ctx.Err()
	if cancelled != nil {
		for _, level := range levels {
			for _, id := range level {
				r.skip(id, "run cancelled")
			}
		}
	}

	result := r.result(start)
	if cancelled != nil {
		result.Success = false
		r.logger.Warn("Run %s cancelled: %v", r.id, cancelled)
		return result, flowerrors.Wrap(cancelled, flowerrors.ErrCancelled, "workflow run cancelled")
	}
	r.logger.Info("Run %s finished in %s, success=%t", r.id, result.Duration.Round(time.Millisecond), result.Success)
	return result, nil
}

// level runs every node of one level and returns once all are resolved
func (r *run) level(ctx context.Context, ids []string) {
	if !r.e.opts.Parallel || len(ids) == 1 {
		for _, id := range ids {
			r.node(ctx, id)
		}
		return
	}

	var g errgroup.Group
	limit := r.e.opts.MaxWorkers
	if limit <= 0 {
		limit = len(ids)
	}
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			r.node(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// node takes one Pending node to a terminal state
func (r *run) node(ctx context.Context, id string) {
	n := r.nodes[id]
	if r.state(id) != workflow.StatePending {
		return
	}
	if ctx.Err() != nil {
		r.skip(id, "run cancelled")
		return
	}

	var condErr error
	if cond := n.Step.Condition; cond != nil {
		ok, err := cond.Evaluate(ctx)
		switch {
		case err != nil:
			condErr = flowerrors.WithOp(err, "evaluate condition "+cond.String())
		case !ok:
			r.logger.Info("Node %s skipped: condition %q is false", id, cond.String())
			r.skip(id, fmt.Sprintf("condition %q is false", cond.String()))
			return
		}
	}

	r.transition(id, workflow.StateReady, nil)
	r.transition(id, workflow.StateRunning, nil)
	r.logger.Info("Node %s running", id)

	var res workflow.ExecutionResult
	if condErr != nil {
		res = workflow.ExecutionResult{NodeID: id, ExitCode: -1, Error: condErr}
	} else {
		res = r.execute(ctx, n)
	}

	state := workflow.StateSucceeded
	if !res.Success {
		state = workflow.StateFailed
		res.AllowedFailure = n.Step.AllowFailure
	}

	r.mu.Lock()
	r.results[id] = res
	r.mu.Unlock()
	r.finish(state, res)

	switch {
	case res.Success:
		r.logger.Info("Node %s succeeded in %s", id, res.Duration())
	case res.AllowedFailure:
		r.logger.Warn("Node %s failed (allowed): %v", id, res.Error)
	default:
		r.logger.Error("Node %s failed: %v", id, res.Error)
		for _, dep := range r.plan.Graph.Descendants(id) {
			if r.skip(dep, fmt.Sprintf("dependency %s failed", id)) {
				r.logger.Info("Node %s skipped: dependency %s failed", dep, id)
			}
		}
	}
}

// execute runs the node request under the retry policy, one deadline per attempt
func (r *run) execute(ctx context.Context, n *workflow.Node) workflow.ExecutionResult {
	req := r.plan.requests[n.ID]
	timeout := r.e.timeout(n.Step)
	start := time.Now()

	var last workflow.ExecutionResult
	op := func(ctx context.Context, attempt int) error {
		actx := ctx
		cancel := func() {}
		if timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, timeout)
		}
		res := req.Execute(actx, r.e.drivers)
		timedOut := actx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		res.NodeID = n.ID
		res.Attempts = attempt
		if res.Success {
			last = res
			return nil
		}
		err := res.Error
		if err == nil {
			err = flowerrors.Newf(flowerrors.ErrExecution, "exit code %d", res.ExitCode)
		}
		if timedOut && !flowerrors.IsTimeout(err) {
			err = flowerrors.NewTimeout(fmt.Sprintf("node %s after %s", n.ID, timeout), err)
		}
		res.Error = err
		last = res
		return err
	}

	onRetry := func(attempt int, delay time.Duration, err error) {
		r.logger.Warn("Node %s attempt %d failed, retrying in %s: %v", n.ID, attempt, delay.Round(time.Millisecond), err)
		if lerr := r.e.ledger.UpdateFields(ledger.RecordKey(r.id, n.ID), map[string]any{
			"Attempts": attempt,
			"Error":    err.Error(),
			"Category": string(flowerrors.CategoryOf(err)),
		}); lerr != nil {
			r.logger.Warn("Ledger update %s: %v", n.ID, lerr)
		}
	}

	opts := []retry.Option{retry.WithOnRetry(onRetry)}
	if r.e.opts.Sleep != nil {
		opts = append(opts, retry.WithSleep(r.e.opts.Sleep))
	}
	if r.e.opts.Rand != nil {
		opts = append(opts, retry.WithRand(r.e.opts.Rand))
	}

	attempts, err := retry.Do(ctx, r.e.opts.Retry, op, opts...)
	if last.NodeID == "" {
		last = workflow.ExecutionResult{NodeID: n.ID, ExitCode: -1}
	}
	last.Attempts = attempts
	last.DurationMillis = time.Since(start).Milliseconds()
	last.Success = err == nil
	if err != nil {
		last.Error = err
	}
	return last
}

func (r *run) state(id string) workflow.NodeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[id].State
}

// transition moves a node and mirrors the move in the ledger
func (r *run) transition(id string, to workflow.NodeState, fields map[string]any) {
	r.mu.Lock()
	err := r.nodes[id].Transition(to)
	r.mu.Unlock()
	if err != nil {
		r.logger.Error("%v", err)
		return
	}
	if err := r.e.ledger.Transition(r.id, id, to, fields); err != nil {
		r.logger.Warn("Ledger transition %s: %v", id, err)
	}
}

func (r *run) finish(state workflow.NodeState, res workflow.ExecutionResult) {
	r.mu.Lock()
	err := r.nodes[res.NodeID].Transition(state)
	r.mu.Unlock()
	if err != nil {
		r.logger.Error("%v", err)
		return
	}
	if err := r.e.ledger.Finish(r.id, state, res); err != nil {
		r.logger.Warn("Ledger finish %s: %v", res.NodeID, err)
	}
}

// skip marks a Pending node Skipped. It reports false when the node had
// already left Pending.
func (r *run) skip(id, reason string) bool {
	r.mu.Lock()
	n := r.nodes[id]
	if n.State != workflow.StatePending {
		r.mu.Unlock()
		return false
	}
	err := n.Transition(workflow.StateSkipped)
	r.mu.Unlock()
	if err != nil {
		return false
	}

	if err := r.e.ledger.Transition(r.id, id, workflow.StateSkipped, map[string]any{"Reason": reason}); err != nil {
		r.logger.Warn("Ledger transition %s: %v", id, err)
	}
	return true
}

// result orders results by level, then node ID
func (r *run) result(start time.Time) *workflow.WorkflowResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := &workflow.WorkflowResult{
		RunID:    r.id,
		Success:  true,
		States:   make(map[string]workflow.NodeState, len(r.nodes)),
		Duration: time.Since(start),
	}
	for _, level := range r.plan.Graph.Levels() {
		for _, id := range level {
			state := r.nodes[id].State
			out.States[id] = state
			if state == workflow.StateSkipped {
				out.SkippedNodeIDs = append(out.SkippedNodeIDs, id)
				continue
			}
			res, ok := r.results[id]
			if !ok {
				continue
			}
			out.Results = append(out.Results, res)
			if !res.Success && !res.AllowedFailure {
				out.Success = false
			}
		}
	}
	return out
}
