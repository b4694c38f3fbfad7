package request

import (
	"context"
	"time"

	"github.com/davidroman0O/contestflow/driver"
	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/workflow"
)

// Shell runs an argument list through the shell driver
type Shell struct {
	StepID  string
	Command []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

func (r *Shell) ID() string              { return r.StepID }
func (r *Shell) Kind() workflow.StepKind { return workflow.KindShell }
func (r *Shell) CountLeaves() int        { return 1 }

func (r *Shell) Validate() error {
	if len(r.Command) == 0 {
		return flowerrors.Validationf("validate shell "+r.StepID, "empty command")
	}
	return nil
}

func (r *Shell) Execute(ctx context.Context, d driver.Drivers) workflow.ExecutionResult {
	if err := d.Supports(workflow.KindShell); err != nil {
		return fail(r.StepID, err)
	}
	start := time.Now()
	out, err := d.Shell.ExecuteShell(ctx, r.Command, r.Dir, r.Env, r.Timeout)
	return finish(r.StepID, start, out, err)
}

// File performs one filesystem operation on resolved paths
type File struct {
	StepID  string
	Op      workflow.FileOp
	Paths   []string
	Content string
}

func (r *File) ID() string              { return r.StepID }
func (r *File) Kind() workflow.StepKind { return workflow.KindFile }
func (r *File) CountLeaves() int        { return 1 }

func (r *File) Validate() error {
	op := "validate " + r.Op.String() + " " + r.StepID
	if len(r.Paths) != r.Op.Arity() {
		return flowerrors.Validationf(op, "takes %d path(s), got %d", r.Op.Arity(), len(r.Paths))
	}
	for _, p := range r.Paths {
		if p == "" {
			return flowerrors.Validationf(op, "empty path")
		}
	}
	return nil
}

func (r *File) Execute(ctx context.Context, d driver.Drivers) workflow.ExecutionResult {
	if err := d.Supports(workflow.KindFile); err != nil {
		return fail(r.StepID, err)
	}
	start := time.Now()
	fs := d.File

	var err error
	switch r.Op {
	case workflow.FileMkdir:
		err = fs.MkdirAll(ctx, r.Paths[0])
	case workflow.FileTouch:
		err = fs.Touch(ctx, r.Paths[0])
	case workflow.FileWrite:
		err = fs.CreateFile(ctx, r.Paths[0], []byte(r.Content))
	case workflow.FileCopy:
		err = fs.Copy(ctx, r.Paths[0], r.Paths[1], false)
	case workflow.FileCopyTree:
		err = fs.Copy(ctx, r.Paths[0], r.Paths[1], true)
	case workflow.FileMove, workflow.FileMoveTree:
		err = fs.Move(ctx, r.Paths[0], r.Paths[1])
	case workflow.FileRemove:
		err = fs.Remove(ctx, r.Paths[0], false)
	case workflow.FileRemoveTree:
		err = fs.Remove(ctx, r.Paths[0], true)
	default:
		err = flowerrors.Validationf("execute file "+r.StepID, "unknown file operation %s", r.Op)
	}

	out := driver.Output{}
	if err != nil {
		out.ExitCode = 1
		out.Stderr = err.Error()
	}
	return finish(r.StepID, start, out, err)
}

// Container runs an image or execs into a named container
type Container struct {
	StepID  string
	Spec    workflow.ContainerSpec
	Command []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

func (r *Container) ID() string              { return r.StepID }
func (r *Container) Kind() workflow.StepKind { return workflow.KindContainer }
func (r *Container) CountLeaves() int        { return 1 }

func (r *Container) Validate() error {
	op := "validate container " + r.StepID
	switch r.Spec.Mode {
	case workflow.ContainerRun:
		if r.Spec.Image == "" {
			return flowerrors.Validationf(op, "run needs an image")
		}
	case workflow.ContainerExec:
		if r.Spec.Name == "" {
			return flowerrors.Validationf(op, "exec needs a container name")
		}
		if len(r.Command) == 0 {
			return flowerrors.Validationf(op, "exec needs a command")
		}
	default:
		return flowerrors.Validationf(op, "unknown container mode %s", r.Spec.Mode)
	}
	if r.Spec.MemoryBytes < 0 {
		return flowerrors.Validationf(op, "negative memory limit")
	}
	return nil
}

func (r *Container) Execute(ctx context.Context, d driver.Drivers) workflow.ExecutionResult {
	if err := d.Supports(workflow.KindContainer); err != nil {
		return fail(r.StepID, err)
	}
	start := time.Now()

	if r.Spec.Mode == workflow.ContainerExec {
		out, err := d.Container.ExecInContainer(ctx, r.Spec.Name, r.Command, driver.ExecOptions{
			Env:        r.Env,
			WorkingDir: r.Dir,
			Timeout:    r.Timeout,
		})
		return finish(r.StepID, start, out, err)
	}

	res, err := d.Container.RunContainer(ctx, r.Spec.Image, r.Spec.Name, driver.ContainerOptions{
		Command:     r.Command,
		Env:         r.Env,
		WorkingDir:  r.Dir,
		Mounts:      r.Spec.Mounts,
		NetworkMode: r.Spec.NetworkMode,
		MemoryBytes: r.Spec.MemoryBytes,
		AutoRemove:  r.Spec.AutoRemove,
		Timeout:     r.Timeout,
	})
	return finish(r.StepID, start, res.Output, err)
}

// Script runs an interpreter over a script file or inline source
type Script struct {
	StepID      string
	Interpreter string
	Path        string
	Source      string
	Args        []string
	Dir         string
	Env         map[string]string
	Timeout     time.Duration
}

func (r *Script) ID() string              { return r.StepID }
func (r *Script) Kind() workflow.StepKind { return workflow.KindScript }
func (r *Script) CountLeaves() int        { return 1 }

func (r *Script) Validate() error {
	op := "validate script " + r.StepID
	if r.Interpreter == "" {
		return flowerrors.Validationf(op, "no interpreter")
	}
	if r.Path == "" && r.Source == "" {
		return flowerrors.Validationf(op, "neither script path nor source")
	}
	return nil
}

func (r *Script) Execute(ctx context.Context, d driver.Drivers) workflow.ExecutionResult {
	if err := d.Supports(workflow.KindScript); err != nil {
		return fail(r.StepID, err)
	}
	start := time.Now()

	out, err := d.Script.RunScript(ctx, driver.ScriptRequest{
		Interpreter: r.Interpreter,
		Path:        r.Path,
		Source:      r.Source,
		Args:        r.Args,
		Dir:         r.Dir,
		Env:         r.Env,
		Timeout:     r.Timeout,
	})
	return finish(r.StepID, start, out, err)
}
