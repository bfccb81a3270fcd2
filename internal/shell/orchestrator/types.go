package orchestrator

import (
	"io"

	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
)

// =============================================================================
// Reports
// =============================================================================

// ServiceState is the externally visible state of one service.
type ServiceState struct {
	Service  string       `json:"service"`
	Instance string       `json:"instance"`
	Status   stack.Status `json:"status"`
	PID      int          `json:"pid,omitempty"`
	Image    string       `json:"image,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// BuildResult records the artifacts produced for one built service.
type BuildResult struct {
	Service   string `json:"service"`
	DefFile   string `json:"def_file"`
	ImageFile string `json:"image_file"`
}

// =============================================================================
// Operation Options
// =============================================================================

// LogOptions selects which service logs to show and how.
type LogOptions struct {
	// Services restricts output; empty means every service.
	Services []string
	// Follow keeps streaming appended log output until the context ends.
	Follow bool
	// Out receives the formatted log lines.
	Out io.Writer
}

// RunOptions describes a one-off foreground run of a single service.
type RunOptions struct {
	Service string
	// Command overrides the service's configured command.
	Command []string
	// Entrypoint bypasses the image run script and executes these tokens
	// with Command appended.
	Entrypoint []string
}
