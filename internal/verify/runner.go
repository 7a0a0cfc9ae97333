package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrCommandFailed marks a command that ran but exited non-zero. It separates
// broken generated code from broken sandbox infrastructure.
var ErrCommandFailed = errors.New("verify: command failed")

// Runner executes one build-tool command inside a workspace directory and
// returns its combined output.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) ([]byte, error)
}

// ExecRunner runs commands as host subprocesses.
type ExecRunner struct{}

// Run executes argv in dir. A non-zero exit wraps ErrCommandFailed; a missing
// executable or other launch failure is returned as-is so callers can treat
// it as an infrastructure problem.
func (ExecRunner) Run(ctx context.Context, dir string, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if err == nil {
		return buf.Bytes(), nil
	}
	if ctx.Err() != nil {
		return buf.Bytes(), ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return buf.Bytes(), fmt.Errorf("%w: exit status %d", ErrCommandFailed, exitErr.ExitCode())
	}
	return buf.Bytes(), err
}
