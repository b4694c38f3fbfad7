package errors

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle found while leveling the graph.
// Nodes lists every node left unresolved; Path is one concrete cycle.
type CycleError struct {
	Nodes []string
	Path  []string
}

func (e *CycleError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("dependency cycle among nodes: %s", strings.Join(e.Nodes, ", "))
}

// Is lets errors.Is(err, DependencyCycle) match
func (e *CycleError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == ErrDependencyCycle
}

// RetryExhaustedError is terminal for a node: every attempt failed
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// Is lets errors.Is(err, RetryExhausted) match
func (e *RetryExhaustedError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == ErrRetryExhausted
}
