// Package engine executes a planned workflow level by level, retrying
// failed nodes, propagating skips to dependents and recording every node
// transition in a ledger.
package engine

import (
	"context"
	"time"

	"github.com/davidroman0O/contestflow/analyzer"
	"github.com/davidroman0O/contestflow/driver"
	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/graph"
	"github.com/davidroman0O/contestflow/ledger"
	"github.com/davidroman0O/contestflow/request"
	"github.com/davidroman0O/contestflow/retry"
	"github.com/davidroman0O/contestflow/workflow"
)

// Options configures an Engine
type Options struct {
	// Parallel runs the nodes of a level concurrently
	Parallel bool

	// MaxWorkers bounds concurrent nodes per level. Zero means the level width.
	MaxWorkers int

	// NodeTimeout applies to every attempt of a node that sets no timeout
	NodeTimeout time.Duration

	// Retry is applied to every node
	Retry retry.Policy

	Logger workflow.Logger

	// Ledger receives node records. A fresh ledger is used when nil.
	Ledger *ledger.Ledger

	// Sleep and Rand replace the backoff timer and the jitter source
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

// Validate checks the options
func (o Options) Validate() error {
	const op = "validate engine options"
	if o.MaxWorkers < 0 {
		return flowerrors.Validationf(op, "negative max workers %d", o.MaxWorkers)
	}
	if o.NodeTimeout < 0 {
		return flowerrors.Validationf(op, "negative node timeout %s", o.NodeTimeout)
	}
	return o.Retry.Validate()
}

// Engine runs plans against a fixed set of drivers
type Engine struct {
	drivers driver.Drivers
	opts    Options
	logger  workflow.Logger
	ledger  *ledger.Ledger
}

// New validates opts and returns an engine bound to drivers
func New(drivers driver.Drivers, opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = workflow.NewDefaultLogger()
	}
	l := opts.Ledger
	if l == nil {
		l = ledger.New()
	}
	return &Engine{drivers: drivers, opts: opts, logger: logger, ledger: l}, nil
}

// Ledger holds the latest record of every node the engine has run
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Plan is an analyzed, leveled workflow with one request per node
type Plan struct {
	Analysis *analyzer.Analysis
	Graph    *graph.Graph
	requests map[string]request.Request
}

// Request returns the request built for node id
func (p *Plan) Request(id string) (request.Request, bool) {
	r, ok := p.requests[id]
	return r, ok
}

// Leaves counts leaf requests across the plan
func (p *Plan) Leaves() int {
	n := 0
	for _, r := range p.requests {
		n += r.CountLeaves()
	}
	return n
}

// Plan analyzes steps, builds the graph and the requests. Every error
// returned here is fatal and nothing has run.
func (e *Engine) Plan(steps []workflow.Step) (*Plan, error) {
	analysis, err := analyzer.Analyze(steps)
	if err != nil {
		return nil, err
	}
	g, err := graph.Build(analysis.Steps, analysis.Edges)
	if err != nil {
		return nil, err
	}

	p := &Plan{Analysis: analysis, Graph: g, requests: make(map[string]request.Request, g.Len())}
	for _, n := range g.Nodes() {
		if err := e.supports(n.Step); err != nil {
			return nil, flowerrors.WithOp(err, "plan node "+n.ID)
		}
		req, err := request.FromStep(n.Step, e.opts.NodeTimeout)
		if err != nil {
			return nil, err
		}
		p.requests[n.ID] = req
	}

	stats := g.Stats()
	e.logger.Debug("Planned %d nodes in %d levels (%d edges, %d redundant)",
		stats.Nodes, stats.Levels, stats.Edges, stats.RemovedEdges)
	return p, nil
}

func (e *Engine) supports(step workflow.Step) error {
	if err := e.drivers.Supports(step.Kind); err != nil {
		return err
	}
	for _, child := range step.Children {
		if err := e.supports(child); err != nil {
			return err
		}
	}
	return nil
}

// RunSteps plans and runs steps
func (e *Engine) RunSteps(ctx context.Context, steps []workflow.Step) (*workflow.WorkflowResult, error) {
	plan, err := e.Plan(steps)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, plan)
}

// timeout is the per-attempt deadline of step
func (e *Engine) timeout(step workflow.Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return e.opts.NodeTimeout
}
