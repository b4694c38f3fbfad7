package driver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	flowerrors "github.com/davidroman0O/contestflow/errors"
)

// ScriptRunner implements Script on top of a Shell and a File driver.
// Inline sources are written to a uniquely named temp file first.
type ScriptRunner struct {
	shell   Shell
	file    File
	tempDir string
}

// NewScriptRunner creates a ScriptRunner. An empty tempDir uses os.TempDir().
func NewScriptRunner(shell Shell, file File, tempDir string) *ScriptRunner {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &ScriptRunner{shell: shell, file: file, tempDir: tempDir}
}

// RunScript implements Script.RunScript
func (r *ScriptRunner) RunScript(ctx context.Context, req ScriptRequest) (Output, error) {
	const op = "run script"
	interp := strings.Fields(req.Interpreter)
	if len(interp) == 0 {
		return Output{ExitCode: -1}, flowerrors.Validationf(op, "no interpreter")
	}

	path := req.Path
	if req.Source != "" {
		path = filepath.Join(r.tempDir, "contestflow-"+uuid.NewString()+".script")
		if err := r.file.CreateFile(ctx, path, []byte(req.Source)); err != nil {
			return Output{ExitCode: -1}, flowerrors.WithOp(err, op)
		}
		defer r.file.Remove(context.WithoutCancel(ctx), path, false)
	}
	if path == "" {
		return Output{ExitCode: -1}, flowerrors.Validationf(op, "neither script path nor source")
	}

	argv := make([]string, 0, len(interp)+1+len(req.Args))
	argv = append(argv, interp...)
	argv = append(argv, path)
	argv = append(argv, req.Args...)
	return r.shell.ExecuteShell(ctx, argv, req.Dir, req.Env, req.Timeout)
}
