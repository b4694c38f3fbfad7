package config

import (
	"path/filepath"
	"strconv"
	"time"

	"github.com/davidroman0O/contestflow/engine"
	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/retry"
	"github.com/davidroman0O/contestflow/workflow"
)

// Workflow is a decoded file resolved into engine inputs
type Workflow struct {
	Name    string
	Steps   []workflow.Step
	Options engine.Options
}

var fileOps = map[string]workflow.FileOp{
	"mkdir":    workflow.FileMkdir,
	"touch":    workflow.FileTouch,
	"write":    workflow.FileWrite,
	"copy":     workflow.FileCopy,
	"copytree": workflow.FileCopyTree,
	"move":     workflow.FileMove,
	"movetree": workflow.FileMoveTree,
	"remove":   workflow.FileRemove,
	"rmtree":   workflow.FileRemoveTree,
}

// Resolve converts the document. Relative directories resolve against
// baseDir, normally the directory of the workflow file.
func (f *File) Resolve(baseDir string) (*Workflow, error) {
	const op = "resolve workflow"
	if len(f.Steps) == 0 {
		return nil, flowerrors.Validationf(op, "workflow has no steps")
	}

	policy, err := f.Retry.Policy()
	if err != nil {
		return nil, err
	}
	opts := engine.Options{Retry: policy}
	if f.Engine != nil {
		opts.Parallel = f.Engine.Parallel
		opts.MaxWorkers = f.Engine.MaxWorkers
		if opts.NodeTimeout, err = parseDuration("engine.node_timeout", f.Engine.NodeTimeout); err != nil {
			return nil, err
		}
	}

	wd := resolveDir(baseDir, f.WorkingDirectory)
	steps := make([]workflow.Step, 0, len(f.Steps))
	for i, sc := range f.Steps {
		step, err := sc.toStep(wd, f.Env)
		if err != nil {
			return nil, flowerrors.WithOp(err, stepLabel(sc, i))
		}
		steps = append(steps, step)
	}
	return &Workflow{Name: f.Name, Steps: steps, Options: opts}, nil
}

// Policy builds a retry policy, refusing any missing field
func (r *RetryConfig) Policy() (retry.Policy, error) {
	const op = "retry config"
	if r == nil {
		return retry.Policy{}, flowerrors.Validationf(op, "workflow has no retry block")
	}
	missing := func(field string) error {
		return flowerrors.Validationf(op, "retry.%s is required", field)
	}
	switch {
	case r.MaxAttempts == nil:
		return retry.Policy{}, missing("max_attempts")
	case r.BaseDelay == nil:
		return retry.Policy{}, missing("base_delay")
	case r.MaxDelay == nil:
		return retry.Policy{}, missing("max_delay")
	case r.BackoffMultiplier == nil:
		return retry.Policy{}, missing("backoff_multiplier")
	case r.Jitter == nil:
		return retry.Policy{}, missing("jitter")
	case r.RetryOn == nil:
		return retry.Policy{}, missing("retry_on")
	case r.AbortOn == nil:
		return retry.Policy{}, missing("abort_on")
	}

	base, err := parseDuration("retry.base_delay", *r.BaseDelay)
	if err != nil {
		return retry.Policy{}, err
	}
	maxDelay, err := parseDuration("retry.max_delay", *r.MaxDelay)
	if err != nil {
		return retry.Policy{}, err
	}
	classifier, err := retry.NewCategoryClassifier(*r.RetryOn, *r.AbortOn)
	if err != nil {
		return retry.Policy{}, err
	}

	p := retry.Policy{
		MaxAttempts:       *r.MaxAttempts,
		BaseDelay:         base,
		MaxDelay:          maxDelay,
		BackoffMultiplier: *r.BackoffMultiplier,
		JitterEnabled:     *r.Jitter,
		Classifier:        classifier,
	}
	if err := p.Validate(); err != nil {
		return retry.Policy{}, err
	}
	return p, nil
}

func (s StepConfig) toStep(parentDir string, parentEnv map[string]string) (workflow.Step, error) {
	op := "step " + s.ID
	timeout, err := parseDuration("timeout", s.Timeout)
	if err != nil {
		return workflow.Step{}, err
	}

	step := workflow.Step{
		ID:               s.ID,
		Name:             s.Name,
		WorkingDirectory: resolveDir(parentDir, s.Dir),
		Environment:      mergeEnv(parentEnv, s.Env),
		AllowFailure:     s.AllowFailure,
		Reads:            s.Reads,
		Writes:           s.Writes,
		After:            s.After,
		Timeout:          timeout,
	}

	if fileOp, ok := fileOps[s.Type]; ok {
		step.Kind = workflow.KindFile
		step.FileOp = fileOp
		step.Content = s.Content
		if fileOp.Arity() == 2 {
			step.Command = []string{s.Src, s.Dst}
		} else {
			step.Command = []string{s.Path}
		}
		return s.finish(step)
	}

	switch s.Type {
	case "shell":
		step.Kind = workflow.KindShell
		if step.Command, err = s.command(op); err != nil {
			return workflow.Step{}, err
		}

	case "docker_run", "docker_exec":
		step.Kind = workflow.KindContainer
		if step.Command, err = s.containerCommand(op); err != nil {
			return workflow.Step{}, err
		}
		spec := &workflow.ContainerSpec{
			Image:       s.Image,
			Name:        s.Container,
			NetworkMode: s.Network,
			MemoryBytes: s.MemoryMB << 20,
			AutoRemove:  s.AutoRemove,
		}
		if s.Type == "docker_exec" {
			spec.Mode = workflow.ContainerExec
		}
		if len(s.Mounts) > 0 {
			spec.Mounts = make(map[string]string, len(s.Mounts))
			for host, target := range s.Mounts {
				spec.Mounts[resolveDir(parentDir, host)] = target
			}
		}
		step.Container = spec
		// dir is a path inside the container; declared resources stay host paths
		step.WorkingDirectory = s.Dir
		step.Reads = absolutize(parentDir, s.Reads)
		step.Writes = absolutize(parentDir, s.Writes)

	case "script", "python":
		step.Kind = workflow.KindScript
		interpreter := s.Interpreter
		if interpreter == "" && s.Type == "python" {
			interpreter = "python3"
		}
		step.Script = &workflow.ScriptSpec{Interpreter: interpreter, Source: s.Source}
		switch {
		case s.Source != "" && s.Script != "":
			return workflow.Step{}, flowerrors.Validationf(op, "set either script or source, not both")
		case s.Script != "":
			step.Command = append([]string{s.Script}, s.Args...)
		default:
			step.Command = s.Args
		}

	case "composite":
		step.Kind = workflow.KindComposite
		step.Parallel = s.Parallel
		step.MaxWorkers = s.MaxWorkers
		for i, child := range s.Steps {
			if child.When != "" {
				return workflow.Step{}, flowerrors.Validationf(op, "child %s: conditions apply to top-level steps only", stepLabel(child, i))
			}
			c, err := child.toStep(step.WorkingDirectory, nil)
			if err != nil {
				return workflow.Step{}, flowerrors.WithOp(err, op+" child "+stepLabel(child, i))
			}
			step.Children = append(step.Children, c)
		}

	case "":
		return workflow.Step{}, flowerrors.Validationf(op, "missing type")
	default:
		return workflow.Step{}, flowerrors.Validationf(op, "unknown step type %q", s.Type)
	}
	return s.finish(step)
}

// finish attaches the condition, which needs the resolved directory and env
func (s StepConfig) finish(step workflow.Step) (workflow.Step, error) {
	if s.When != "" {
		cond, err := workflow.ParseCondition(s.When, step.WorkingDirectory, step.Environment)
		if err != nil {
			return workflow.Step{}, err
		}
		step.Condition = cond
	}
	return step, nil
}

func (s StepConfig) command(op string) ([]string, error) {
	switch {
	case s.Run != "" && len(s.Args) > 0:
		return nil, flowerrors.Validationf(op, "set either run or args, not both")
	case s.Run != "":
		return []string{s.Run}, nil
	case len(s.Args) > 0:
		return s.Args, nil
	}
	return nil, flowerrors.Validationf(op, "shell step needs run or args")
}

// containerCommand runs a shell line through sh inside the container; an
// empty command keeps the image default
func (s StepConfig) containerCommand(op string) ([]string, error) {
	if s.Run != "" && len(s.Args) > 0 {
		return nil, flowerrors.Validationf(op, "set either run or args, not both")
	}
	if s.Run != "" {
		return []string{"sh", "-c", s.Run}, nil
	}
	return s.Args, nil
}

func stepLabel(s StepConfig, i int) string {
	if s.ID != "" {
		return "step " + s.ID
	}
	return "step #" + strconv.Itoa(i)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, flowerrors.Validationf("parse "+field, "invalid duration %q", s)
	}
	if d < 0 {
		return 0, flowerrors.Validationf("parse "+field, "negative duration %q", s)
	}
	return d, nil
}

func resolveDir(base, dir string) string {
	if dir == "" {
		return base
	}
	if filepath.IsAbs(dir) || base == "" {
		return filepath.Clean(dir)
	}
	return filepath.Join(base, dir)
}

func absolutize(base string, paths []string) []string {
	if len(paths) == 0 {
		return paths
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = resolveDir(base, p)
	}
	return out
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
