package driver

import (
	"fmt"
	"strings"

	flowerrors "github.com/davidroman0O/contestflow/errors"
)

// CommandError represents an error that occurred while executing a command
type CommandError struct {
	Command  string   // The command that was executed
	Args     []string // The arguments passed to the command
	Output   string   // The command output (stderr, or stdout when stderr is empty)
	ExitCode int
	Err      error // The underlying error
}

// Error implements the error interface
func (e *CommandError) Error() string {
	fullCmd := e.Command
	if len(e.Args) > 0 {
		fullCmd += " " + strings.Join(e.Args, " ")
	}

	if e.Output == "" {
		return fmt.Sprintf("command failed: '%s': %v", fullCmd, e.Err)
	}

	return fmt.Sprintf("command failed: '%s': %v\nOutput: %s",
		fullCmd, e.Err, formatCommandOutput(e.Output))
}

// Unwrap returns the underlying error
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ErrorCode classifies command failures as execution errors
func (e *CommandError) ErrorCode() flowerrors.ErrorCode {
	return flowerrors.ErrExecution
}

// NewCommandError creates a new CommandError from an argument list
func NewCommandError(cmd []string, out Output, err error) *CommandError {
	ce := &CommandError{ExitCode: out.ExitCode, Err: err}
	if len(cmd) > 0 {
		ce.Command = cmd[0]
		ce.Args = cmd[1:]
	}
	ce.Output = out.Stderr
	if strings.TrimSpace(ce.Output) == "" {
		ce.Output = out.Stdout
	}
	return ce
}

// formatCommandOutput formats command output for better readability in error messages
func formatCommandOutput(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return "<no output>"
	}

	if len(output) > 1000 {
		output = output[:1000] + "... [output truncated]"
	}

	// Add indentation for multi-line output
	if strings.Contains(output, "\n") {
		lines := strings.Split(output, "\n")
		for i, line := range lines {
			lines[i] = "  | " + line
		}
		return "\n" + strings.Join(lines, "\n")
	}

	return output
}

// ExitError reports a non-zero exit status from a process that is not a
// local exec.Cmd (container exec, remote session)
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}
