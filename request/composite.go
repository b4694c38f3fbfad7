package request

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davidroman0O/contestflow/driver"
	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/workflow"
)

// Arena stores every request of a composite tree. Composites refer to
// their children by index, so the tree has no parent pointers.
type Arena struct {
	reqs []Request
}

// Add stores r and returns its index
func (a *Arena) Add(r Request) int {
	a.reqs = append(a.reqs, r)
	return len(a.reqs) - 1
}

// At returns the request at index i
func (a *Arena) At(i int) Request {
	return a.reqs[i]
}

// Len is the number of stored requests
func (a *Arena) Len() int {
	return len(a.reqs)
}

// Composite runs its children in order, or concurrently when Parallel is
// set. A sequential composite stops at the first failing child.
type Composite struct {
	StepID     string
	Parallel   bool
	MaxWorkers int

	arena    *Arena
	children []int
}

// NewComposite creates an empty composite backed by arena
func NewComposite(id string, arena *Arena, parallel bool, maxWorkers int) *Composite {
	return &Composite{StepID: id, Parallel: parallel, MaxWorkers: maxWorkers, arena: arena}
}

// Append adds a child to the arena and to this composite
func (c *Composite) Append(r Request) {
	c.children = append(c.children, c.arena.Add(r))
}

// Children returns the child requests in order
func (c *Composite) Children() []Request {
	out := make([]Request, len(c.children))
	for i, idx := range c.children {
		out[i] = c.arena.At(idx)
	}
	return out
}

func (c *Composite) ID() string              { return c.StepID }
func (c *Composite) Kind() workflow.StepKind { return workflow.KindComposite }

// CountLeaves counts the non-composite requests under c
func (c *Composite) CountLeaves() int {
	n := 0
	for _, idx := range c.children {
		n += c.arena.At(idx).CountLeaves()
	}
	return n
}

func (c *Composite) Validate() error {
	op := "validate composite " + c.StepID
	if len(c.children) == 0 {
		return flowerrors.Validationf(op, "no children")
	}
	if c.MaxWorkers < 0 {
		return flowerrors.Validationf(op, "negative max workers")
	}
	for _, idx := range c.children {
		if err := c.arena.At(idx).Validate(); err != nil {
			return flowerrors.WithContext(err, map[string]interface{}{"composite": c.StepID})
		}
	}
	return nil
}

func (c *Composite) Execute(ctx context.Context, d driver.Drivers) workflow.ExecutionResult {
	start := time.Now()
	children := c.Children()
	results := make([]workflow.ExecutionResult, len(children))
	ran := make([]bool, len(children))

	if c.Parallel {
		var g errgroup.Group
		if c.MaxWorkers > 0 {
			g.SetLimit(c.MaxWorkers)
		}
		var mu sync.Mutex
		for i, child := range children {
			g.Go(func() error {
				res := child.Execute(ctx, d)
				mu.Lock()
				results[i], ran[i] = res, true
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, child := range children {
			results[i], ran[i] = child.Execute(ctx, d), true
			if !results[i].Success {
				break
			}
		}
	}

	return c.aggregate(start, results, ran)
}

// aggregate joins child output and reports the first failure's exit code
func (c *Composite) aggregate(start time.Time, results []workflow.ExecutionResult, ran []bool) workflow.ExecutionResult {
	var stdout, stderr []string
	var errs []error
	exit := 0
	for i, r := range results {
		if !ran[i] {
			continue
		}
		if r.Stdout != "" {
			stdout = append(stdout, r.Stdout)
		}
		if r.Stderr != "" {
			stderr = append(stderr, r.Stderr)
		}
		if !r.Success {
			if exit == 0 {
				exit = r.ExitCode
				if exit == 0 {
					exit = 1
				}
			}
			if r.Error != nil {
				errs = append(errs, flowerrors.WithOp(r.Error, "child "+r.NodeID))
			}
		}
	}

	res := workflow.ExecutionResult{
		NodeID:         c.StepID,
		Success:        exit == 0,
		Stdout:         strings.Join(stdout, ""),
		Stderr:         strings.Join(stderr, ""),
		ExitCode:       exit,
		DurationMillis: time.Since(start).Milliseconds(),
		Attempts:       1,
	}
	switch len(errs) {
	case 0:
		if !res.Success {
			res.Error = flowerrors.Newf(flowerrors.ErrExecution, "composite %s failed", c.StepID)
		}
	case 1:
		res.Error = errs[0]
	default:
		// the first failure decides the code; the rest ride along in the message
		res.Error = &flowerrors.Error{Code: flowerrors.GetCode(errs[0]), Op: "composite " + c.StepID, Cause: errors.Join(errs...)}
	}
	return res
}
