package driver

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/workflow"
)

// DefaultWaitDelay bounds how long Wait blocks on output pipes after the
// process group has been killed
const DefaultWaitDelay = 2 * time.Second

// LocalShell implements Shell by directly executing commands on the host OS
type LocalShell struct {
	// ShellPath runs single-string commands, "/bin/sh" when empty
	ShellPath string
	WaitDelay time.Duration
	logger    workflow.Logger
}

// NewLocalShell creates a LocalShell
func NewLocalShell(logger workflow.Logger) *LocalShell {
	if logger == nil {
		logger = workflow.NewDefaultLogger()
	}
	return &LocalShell{ShellPath: "/bin/sh", WaitDelay: DefaultWaitDelay, logger: logger}
}

// ExecuteShell implements Shell.ExecuteShell. On timeout the whole process
// group is killed before the call returns.
func (s *LocalShell) ExecuteShell(ctx context.Context, cmd []string, cwd string, env map[string]string, timeout time.Duration) (Output, error) {
	const op = "execute shell"
	if len(cmd) == 0 {
		return Output{ExitCode: -1}, flowerrors.Validationf(op, "empty command")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	argv := s.argv(cmd)
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Dir = cwd
	c.Env = MergeEnv(os.Environ(), env)
	c.WaitDelay = s.WaitDelay

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	killProcessGroup(c)

	s.logger.Debug("exec %v in %q", argv, cwd)
	err := c.Run()

	out := Output{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
	if c.ProcessState != nil {
		out.ExitCode = c.ProcessState.ExitCode()
	}
	if err == nil {
		return out, nil
	}

	cmdErr := NewCommandError(argv, out, err)
	if ierr := interrupted(op, ctx, cmdErr); ierr != nil {
		return out, ierr
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		out.ExitCode = 127
		return out, &flowerrors.Error{Code: flowerrors.ErrNotFound, Op: op, Cause: cmdErr}
	}
	return out, cmdErr
}

func (s *LocalShell) argv(cmd []string) []string {
	if len(cmd) != 1 {
		return cmd
	}
	sh := s.ShellPath
	if sh == "" {
		sh = "/bin/sh"
	}
	return []string{sh, "-c", cmd[0]}
}

// MergeEnv overlays extra on base (KEY=VALUE pairs). Overlay keys are
// appended in sorted order so the result is deterministic.
func MergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if _, overridden := extra[key]; !overridden {
			out = append(out, kv)
		}
	}
	return append(out, envList(extra)...)
}

// envList renders a map as sorted KEY=VALUE pairs
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + env[k]
	}
	return out
}

// interrupted maps a call context that ended early onto the taxonomy
func interrupted(op string, ctx context.Context, cause error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return flowerrors.NewTimeout(op, cause)
	case errors.Is(ctx.Err(), context.Canceled):
		return &flowerrors.Error{Code: flowerrors.ErrCancelled, Op: op, Message: "cancelled", Cause: cause}
	}
	return nil
}
