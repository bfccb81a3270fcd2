// Package orchestrator drives the service lifecycle for a compose project:
// it resolves image sources, translates and builds images, and walks the
// dependency graph starting and stopping runtime instances.
package orchestrator

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/runtime"
)

const (
	// DefaultArtifactsDir is created under the project directory for
	// definition files, built images and hosts files.
	DefaultArtifactsDir = ".apptainer-compose"

	DefaultStartTimeout = 60 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// =============================================================================
// Orchestrator
// =============================================================================

// Options configures an Orchestrator.
type Options struct {
	// ProjectDir is the directory containing the compose file. Relative
	// build contexts and bind sources anchor here.
	ProjectDir string
	// ArtifactsDir overrides where artifacts are written. Defaults to
	// DefaultArtifactsDir under ProjectDir.
	ArtifactsDir string

	// WritableTmpfs overlays a writable tmpfs on every instance.
	WritableTmpfs bool
	// Fakeroot builds images in a fakeroot namespace.
	Fakeroot bool

	// AbortOnFailure tears the project down when any service fails to
	// build or start. The default keeps going: only the failed service's
	// dependents are abandoned.
	AbortOnFailure bool
	// Parallel is the maximum number of mutually independent services
	// started concurrently. Values below 2 start strictly sequentially.
	Parallel int

	// StartTimeout bounds how long a started instance may take to appear
	// in the runtime's instance list before it is killed and failed.
	StartTimeout time.Duration
	// StopTimeout is the graceful shutdown window before the runtime
	// kills an instance.
	StopTimeout time.Duration
}

// Orchestrator manages the lifecycle of a compose project against the
// container runtime.
type Orchestrator struct {
	runtime runtime.Client
	logger  *slog.Logger
	opts    Options
}

// New creates an orchestrator.
func New(rt runtime.Client, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ArtifactsDir == "" {
		opts.ArtifactsDir = filepath.Join(opts.ProjectDir, DefaultArtifactsDir)
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Orchestrator{
		runtime: rt,
		logger:  logger,
		opts:    opts,
	}
}

// =============================================================================
// Shared Helpers
// =============================================================================

func (o *Orchestrator) resolveOptions() stack.ResolveOptions {
	return stack.ResolveOptions{
		ProjectDir:   o.opts.ProjectDir,
		ArtifactsDir: o.opts.ArtifactsDir,
	}
}

func (o *Orchestrator) ensureArtifactsDir() error {
	if err := os.MkdirAll(o.opts.ArtifactsDir, 0o755); err != nil {
		return fmt.Errorf("create artifacts directory: %w", err)
	}
	return nil
}

func (o *Orchestrator) stopSeconds() int {
	return int(o.opts.StopTimeout.Seconds())
}
