package request

import (
	"fmt"
	"path/filepath"
	"time"

	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/workflow"
)

// FromStep builds the request for step. timeout applies when the step does
// not set its own. Relative file and script paths are resolved against the
// step working directory.
func FromStep(step workflow.Step, timeout time.Duration) (Request, error) {
	if step.Kind == workflow.KindComposite {
		arena := &Arena{}
		return buildComposite(step, timeout, arena)
	}
	return buildLeaf(step, timeout, nil)
}

func buildLeaf(step workflow.Step, timeout time.Duration, arena *Arena) (Request, error) {
	if step.Timeout > 0 {
		timeout = step.Timeout
	}

	var req Request
	switch step.Kind {
	case workflow.KindShell:
		req = &Shell{
			StepID:  step.ID,
			Command: step.Command,
			Dir:     step.WorkingDirectory,
			Env:     step.Environment,
			Timeout: timeout,
		}
	case workflow.KindFile:
		paths := make([]string, len(step.Command))
		for i, p := range step.Command {
			paths[i] = Resolve(step.WorkingDirectory, p)
		}
		req = &File{StepID: step.ID, Op: step.FileOp, Paths: paths, Content: step.Content}
	case workflow.KindContainer:
		if step.Container == nil {
			return nil, flowerrors.Validationf("build request "+step.ID, "container step has no container spec")
		}
		req = &Container{
			StepID:  step.ID,
			Spec:    *step.Container,
			Command: step.Command,
			Dir:     step.WorkingDirectory,
			Env:     step.Environment,
			Timeout: timeout,
		}
	case workflow.KindScript:
		if step.Script == nil {
			return nil, flowerrors.Validationf("build request "+step.ID, "script step has no interpreter")
		}
		s := &Script{
			StepID:      step.ID,
			Interpreter: step.Script.Interpreter,
			Source:      step.Script.Source,
			Args:        step.Command,
			Dir:         step.WorkingDirectory,
			Env:         step.Environment,
			Timeout:     timeout,
		}
		if s.Source == "" && len(step.Command) > 0 {
			s.Path = Resolve(step.WorkingDirectory, step.Command[0])
			s.Args = step.Command[1:]
		}
		req = s
	case workflow.KindComposite:
		return buildComposite(step, timeout, arena)
	default:
		return nil, flowerrors.Validationf("build request "+step.ID, "unknown step kind %s", step.Kind)
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func buildComposite(step workflow.Step, timeout time.Duration, arena *Arena) (Request, error) {
	if step.Timeout > 0 {
		timeout = step.Timeout
	}
	c := NewComposite(step.ID, arena, step.Parallel, step.MaxWorkers)
	for i, child := range step.Children {
		if child.ID == "" {
			child.ID = childID(step.ID, i)
		}
		if child.WorkingDirectory == "" {
			child.WorkingDirectory = step.WorkingDirectory
		}
		child.Environment = mergeEnv(step.Environment, child.Environment)

		req, err := buildLeaf(child, timeout, arena)
		if err != nil {
			return nil, err
		}
		c.Append(req)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func childID(parent string, i int) string {
	return fmt.Sprintf("%s/step-%03d", parent, i)
}

func mergeEnv(parent, child map[string]string) map[string]string {
	if len(parent) == 0 {
		return child
	}
	out := make(map[string]string, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

// Resolve cleans p and joins it to dir when relative
func Resolve(dir, p string) string {
	if p == "" {
		return ""
	}
	if !filepath.IsAbs(p) && dir != "" {
		p = filepath.Join(dir, p)
	}
	return filepath.Clean(p)
}
