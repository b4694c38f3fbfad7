package workflow

import (
	"time"
)

// ExecutionResult is the outcome of one node. When a node is retried, the
// engine keeps the last attempt and records how many attempts were made.
type ExecutionResult struct {
	NodeID         string `json:"nodeId"`
	Success        bool   `json:"success"`
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	ExitCode       int    `json:"exitCode"`
	DurationMillis int64  `json:"durationMillis"`
	Attempts       int    `json:"attempts"`
	// AllowedFailure marks a failure that does not count against the run
	AllowedFailure bool  `json:"allowedFailure,omitempty"`
	Error          error `json:"-"`
}

// Duration returns DurationMillis as a time.Duration
func (r ExecutionResult) Duration() time.Duration {
	return time.Duration(r.DurationMillis) * time.Millisecond
}

// WorkflowResult aggregates a whole run
type WorkflowResult struct {
	RunID          string               `json:"runId"`
	Results        []ExecutionResult    `json:"results"`
	Success        bool                 `json:"success"`
	SkippedNodeIDs []string             `json:"skippedNodeIds"`
	States         map[string]NodeState `json:"states"`
	Duration       time.Duration        `json:"duration"`
}

// Result returns the execution result of nodeID, if it ran
func (w *WorkflowResult) Result(nodeID string) (ExecutionResult, bool) {
	for _, r := range w.Results {
		if r.NodeID == nodeID {
			return r, true
		}
	}
	return ExecutionResult{}, false
}

// FailedNodeIDs lists nodes that ended Failed, in result order, including
// allowed failures
func (w *WorkflowResult) FailedNodeIDs() []string {
	var out []string
	for _, r := range w.Results {
		if w.States[r.NodeID] == StateFailed {
			out = append(out, r.NodeID)
		}
	}
	return out
}
