package runtime

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// =============================================================================
// Command Runner
// =============================================================================

// Runner executes external commands. The indirection exists so the runtime
// client can be tested without the binary installed.
type Runner interface {
	// Run streams stdout and stderr to the attached writers.
	Run(ctx context.Context, dir, name string, args ...string) error
	// Output captures stdout. On failure stderr is carried inside the
	// returned *exec.ExitError.
	Output(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner is the os/exec implementation of Runner.
type ExecRunner struct {
	// Stdout and Stderr receive streamed output from Run. Nil writers
	// default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = r.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = r.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	return cmd.Run()
}

func (r ExecRunner) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.Output()
}

// exitDetails extracts the exit code and captured stderr from a command
// error. Exit code -1 means the process did not run or was killed.
func exitDetails(err error) (int, string) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), string(exitErr.Stderr)
	}
	return -1, ""
}
