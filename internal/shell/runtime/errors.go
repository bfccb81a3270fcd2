package runtime

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrBinaryNotFound   = errors.New("container runtime binary not found")
	ErrInvocationFailed = errors.New("runtime invocation failed")
	ErrInstanceNotFound = errors.New("instance not found")
)

// InvocationError wraps a failed runtime invocation with the command context
// needed to diagnose it.
type InvocationError struct {
	Op       string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("%s: exit code %d", e.Op, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + lastLine(stderr)
	}
	return msg
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// NewInvocationError creates an invocation error wrapping ErrInvocationFailed.
func NewInvocationError(op string, args []string, exitCode int, stderr string) *InvocationError {
	return &InvocationError{
		Op:       op,
		Args:     args,
		ExitCode: exitCode,
		Stderr:   stderr,
		Err:      ErrInvocationFailed,
	}
}

// lastLine keeps error messages single-line; the full stderr stays available
// on the error value.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
