// Package driver defines the boundary between the execution engine and the
// code that actually touches processes, files and containers.
package driver

import (
	"context"
	"time"

	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/workflow"
)

// Output is what a process-like call produced
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Shell runs an argument list as a subprocess. A single-element cmd is
// handed to the system shell as a script line.
type Shell interface {
	ExecuteShell(ctx context.Context, cmd []string, cwd string, env map[string]string, timeout time.Duration) (Output, error)
}

// File performs filesystem operations on explicit paths
type File interface {
	MkdirAll(ctx context.Context, path string) error
	Touch(ctx context.Context, path string) error
	CreateFile(ctx context.Context, path string, content []byte) error
	Copy(ctx context.Context, src, dst string, recursive bool) error
	Move(ctx context.Context, src, dst string) error
	Remove(ctx context.Context, path string, recursive bool) error
}

// ContainerOptions configures RunContainer
type ContainerOptions struct {
	Command     []string
	Env         map[string]string
	WorkingDir  string
	Mounts      map[string]string // host path -> container path
	NetworkMode string
	MemoryBytes int64
	AutoRemove  bool
	Timeout     time.Duration
}

// ContainerResult is the outcome of a container run
type ContainerResult struct {
	Output
	ContainerID string
}

// ExecOptions configures ExecInContainer
type ExecOptions struct {
	Env        map[string]string
	WorkingDir string
	Timeout    time.Duration
}

// Container runs sandboxed work
type Container interface {
	RunContainer(ctx context.Context, image, name string, opts ContainerOptions) (ContainerResult, error)
	ExecInContainer(ctx context.Context, containerName string, cmd []string, opts ExecOptions) (Output, error)
}

// ScriptRequest describes one script execution. Exactly one of Path and
// Source is used; Source wins when both are set.
type ScriptRequest struct {
	Interpreter string
	Path        string
	Source      string
	Args        []string
	Dir         string
	Env         map[string]string
	Timeout     time.Duration
}

// Script runs interpreter scripts
type Script interface {
	RunScript(ctx context.Context, req ScriptRequest) (Output, error)
}

// Drivers is the set of drivers handed to the engine. A nil member means
// that capability is unavailable and steps needing it fail validation.
type Drivers struct {
	Shell     Shell
	File      File
	Container Container
	Script    Script
}

// NewLocal returns drivers backed by the local machine. Container stays nil
// until a Docker driver is attached.
func NewLocal(logger workflow.Logger) Drivers {
	shell := NewLocalShell(logger)
	fs := NewLocalFS()
	return Drivers{
		Shell:  shell,
		File:   fs,
		Script: NewScriptRunner(shell, fs, ""),
	}
}

// Supports checks that the drivers a step kind needs are present
func (d Drivers) Supports(kind workflow.StepKind) error {
	const op = "check drivers"
	var ok bool
	switch kind {
	case workflow.KindShell:
		ok = d.Shell != nil
	case workflow.KindFile:
		ok = d.File != nil
	case workflow.KindContainer:
		ok = d.Container != nil
	case workflow.KindScript:
		ok = d.Script != nil
	case workflow.KindComposite:
		ok = true
	}
	if !ok {
		return flowerrors.Validationf(op, "no %s driver configured", kind)
	}
	return nil
}
