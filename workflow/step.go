// Package workflow holds the data model shared by the analyzer, the graph
// builder and the execution engine: steps, nodes, and run results.
package workflow

import (
	"fmt"
	"strconv"
	"time"

	flowerrors "github.com/davidroman0O/contestflow/errors"
)

// StepKind is the closed set of operation variants
type StepKind int

const (
	KindShell StepKind = iota
	KindFile
	KindContainer
	KindScript
	KindComposite
)

func (k StepKind) String() string {
	switch k {
	case KindShell:
		return "shell"
	case KindFile:
		return "file"
	case KindContainer:
		return "container"
	case KindScript:
		return "script"
	case KindComposite:
		return "composite"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FileOp selects the filesystem operation of a KindFile step
type FileOp int

const (
	FileMkdir FileOp = iota
	FileTouch
	FileWrite
	FileCopy
	FileCopyTree
	FileMove
	FileMoveTree
	FileRemove
	FileRemoveTree
)

var fileOpNames = []string{"mkdir", "touch", "write", "copy", "copytree", "move", "movetree", "remove", "rmtree"}

func (op FileOp) String() string {
	if int(op) >= 0 && int(op) < len(fileOpNames) {
		return fileOpNames[op]
	}
	return fmt.Sprintf("fileop(%d)", int(op))
}

// Arity is the number of path arguments the operation takes
func (op FileOp) Arity() int {
	switch op {
	case FileCopy, FileCopyTree, FileMove, FileMoveTree:
		return 2
	default:
		return 1
	}
}

// ContainerMode distinguishes a fresh container run from an exec into a named one
type ContainerMode int

const (
	ContainerRun ContainerMode = iota
	ContainerExec
)

func (m ContainerMode) String() string {
	if m == ContainerExec {
		return "exec"
	}
	return "run"
}

// ContainerSpec configures a KindContainer step
type ContainerSpec struct {
	Mode        ContainerMode
	Image       string
	Name        string
	Mounts      map[string]string
	NetworkMode string
	MemoryBytes int64
	AutoRemove  bool
}

// ScriptSpec configures a KindScript step. Command carries the script path
// and its arguments unless Source is set, in which case Command is only args.
type ScriptSpec struct {
	Interpreter string
	Source      string
}

// Step is an immutable description of one unit of work
type Step struct {
	ID   string
	Name string
	Kind StepKind

	// Command is the ordered argument list. For file steps it holds the paths.
	Command          []string
	WorkingDirectory string
	Environment      map[string]string
	Condition        Condition
	AllowFailure     bool

	// Declared resources; inferred ones are added by the analyzer
	Reads  []string
	Writes []string

	// After lists step IDs that must complete before this one
	After []string

	// Timeout overrides the engine's per-node timeout when non-zero
	Timeout time.Duration

	FileOp    FileOp
	Content   string
	Container *ContainerSpec
	Script    *ScriptSpec

	Children   []Step
	Parallel   bool
	MaxWorkers int

	// Generated marks steps synthesized by the analyzer
	Generated bool
}

// DisplayName prefers Name, falling back to ID
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Validate checks the fields every variant needs. Variant-specific checks
// live with the request model.
func (s Step) Validate() error {
	op := "validate step " + s.DisplayName()
	if s.Timeout < 0 {
		return flowerrors.Validationf(op, "negative timeout %s", s.Timeout)
	}
	for _, dep := range s.After {
		if dep == "" {
			return flowerrors.Validationf(op, "empty id in after list")
		}
		if dep == s.ID {
			return flowerrors.Validationf(op, "step cannot run after itself")
		}
	}

	switch s.Kind {
	case KindShell:
		if len(s.Command) == 0 {
			return flowerrors.Validationf(op, "shell step has no command")
		}
	case KindFile:
		if len(s.Command) != s.FileOp.Arity() {
			return flowerrors.Validationf(op, "%s takes %d path(s), got %d", s.FileOp, s.FileOp.Arity(), len(s.Command))
		}
		for _, p := range s.Command {
			if p == "" {
				return flowerrors.Validationf(op, "%s has an empty path", s.FileOp)
			}
		}
	case KindContainer:
		if s.Container == nil {
			return flowerrors.Validationf(op, "container step has no container spec")
		}
	case KindScript:
		if s.Script == nil || s.Script.Interpreter == "" {
			return flowerrors.Validationf(op, "script step has no interpreter")
		}
		if s.Script.Source == "" && len(s.Command) == 0 {
			return flowerrors.Validationf(op, "script step has neither source nor script path")
		}
	case KindComposite:
		if len(s.Children) == 0 {
			return flowerrors.Validationf(op, "composite step has no children")
		}
		if s.MaxWorkers < 0 {
			return flowerrors.Validationf(op, "negative max workers")
		}
		for _, child := range s.Children {
			if child.Kind == KindComposite && len(child.Children) == 0 {
				return flowerrors.Validationf(op, "nested composite %s has no children", child.DisplayName())
			}
		}
	default:
		return flowerrors.Validationf(op, "unknown step kind %s", s.Kind)
	}
	return nil
}

// AssignIDs returns a copy of steps where every empty ID is replaced with
// step-NNN (list index), so ID order follows list order. The index is
// padded to at least three digits and widened for longer lists.
func AssignIDs(steps []Step) []Step {
	width := max(3, len(strconv.Itoa(len(steps)-1)))
	out := make([]Step, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%0*d", width, i)
		}
		out[i] = s
	}
	return out
}
