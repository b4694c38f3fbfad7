package workflow

import (
	"fmt"
	"sort"
)

// NodeState is the execution state of a node within a single run
type NodeState int

const (
	StatePending NodeState = iota
	StateReady
	StateRunning
	StateSucceeded
	StateFailed
	StateSkipped
)

var stateNames = []string{"pending", "ready", "running", "succeeded", "failed", "skipped"}

func (s NodeState) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON and YAML output
func (s NodeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether the state can no longer change
func (s NodeState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// CanTransition reports whether from -> to is a legal forward move
func CanTransition(from, to NodeState) bool {
	switch from {
	case StatePending:
		return to == StateReady || to == StateSkipped
	case StateReady:
		return to == StateRunning
	case StateRunning:
		return to == StateSucceeded || to == StateFailed
	default:
		return false
	}
}

// Node is a step with graph identity and execution state
type Node struct {
	ID        string
	Step      Step
	DependsOn []string
	State     NodeState
}

// NewNode wraps a step whose ID is already assigned
func NewNode(step Step) *Node {
	return &Node{ID: step.ID, Step: step, State: StatePending}
}

// Transition moves the node forward, refusing anything else
func (n *Node) Transition(to NodeState) error {
	if !CanTransition(n.State, to) {
		return fmt.Errorf("node %s: illegal transition %s -> %s", n.ID, n.State, to)
	}
	n.State = to
	return nil
}

// SortedIDs returns the IDs of nodes in ascending order
func SortedIDs(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	sort.Strings(ids)
	return ids
}
