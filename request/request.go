// Package request is the operation request model: one executable unit per
// step, dispatched to the driver boundary. Requests never retry; retries
// belong to the engine.
package request

import (
	"context"
	"time"

	"github.com/davidroman0O/contestflow/driver"
	"github.com/davidroman0O/contestflow/workflow"
)

// Request is the closed set of executable variants: *Shell, *File,
// *Container, *Script and *Composite.
type Request interface {
	ID() string
	Kind() workflow.StepKind
	Validate() error
	Execute(ctx context.Context, d driver.Drivers) workflow.ExecutionResult
	CountLeaves() int
}

// finish turns a driver outcome into an ExecutionResult
func finish(id string, start time.Time, out driver.Output, err error) workflow.ExecutionResult {
	return workflow.ExecutionResult{
		NodeID:         id,
		Success:        err == nil,
		Stdout:         out.Stdout,
		Stderr:         out.Stderr,
		ExitCode:       out.ExitCode,
		DurationMillis: time.Since(start).Milliseconds(),
		Attempts:       1,
		Error:          err,
	}
}

// fail reports a request that never reached a driver
func fail(id string, err error) workflow.ExecutionResult {
	return workflow.ExecutionResult{NodeID: id, ExitCode: -1, Attempts: 1, Error: err}
}
