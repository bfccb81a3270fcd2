package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/deffile"
	"github.com/apptainer-compose/apptainer-compose/internal/core/graph"
	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/orchestrator"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/runtime"
)

// =============================================================================
// Exit Code Tests
// =============================================================================

func TestExitCode(t *testing.T) {
	invocation := runtime.NewInvocationError("instance start", []string{"instance", "start"}, 255, "boom")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"unclassified", errors.New("something else"), ExitConfigError},
		{"compose file not found", ErrComposeFileNotFound, ExitConfigError},
		{"interrupted", context.Canceled, ExitInterrupted},

		{"malformed service", compose.NewParseError("services.web", "both image and build", compose.ErrMalformedService), ExitParseError},
		{"invalid yaml", compose.NewParseError("", "bad indent", compose.ErrInvalidYAML), ExitParseError},
		{"no services", compose.ErrNoServices, ExitParseError},
		{"missing image source", stack.NewResolveError("web", "neither image nor build", stack.ErrMissingImageSource), ExitParseError},
		{"unknown service", fmt.Errorf("%w: ghost", orchestrator.ErrServiceNotFound), ExitParseError},

		{"cycle", &graph.CycleError{Members: []string{"a", "b", "c"}}, ExitCycleError},
		{"unknown dependency", &graph.UnknownDependencyError{Service: "web", Target: "ghost"}, ExitCycleError},

		{"unsupported directive", deffile.NewDirectiveError("FROM", 3, "multi-stage builds are not supported"), ExitBuildError},
		{"build invocation", orchestrator.NewServiceError("build", "web", orchestrator.ErrBuildFailed, invocation), ExitBuildError},

		{"start invocation", orchestrator.NewServiceError("start", "web", orchestrator.ErrStartFailed, invocation), ExitRuntimeError},
		{"stop invocation", orchestrator.NewServiceError("stop", "web", orchestrator.ErrStopFailed, invocation), ExitRuntimeError},
		{"bare invocation", invocation, ExitRuntimeError},
		{"binary missing", fmt.Errorf("%w: apptainer", runtime.ErrBinaryNotFound), ExitRuntimeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

// A build failure carries the underlying invocation error; it must classify
// as a build failure, not a runtime failure.
func TestExitCode_BuildWinsOverInvocation(t *testing.T) {
	err := orchestrator.NewServiceError("build", "web", orchestrator.ErrBuildFailed,
		runtime.NewInvocationError("build", nil, 1, "mksquashfs not found"))

	assert.True(t, errors.Is(err, runtime.ErrInvocationFailed))
	assert.Equal(t, ExitBuildError, exitCode(err))
}

func TestExitCode_JoinedFailures(t *testing.T) {
	err := errors.Join(
		orchestrator.NewServiceError("start", "web", orchestrator.ErrStartFailed, errors.New("timeout")),
		orchestrator.NewServiceError("start", "db", orchestrator.ErrStartFailed, errors.New("timeout")),
	)

	assert.Equal(t, ExitRuntimeError, exitCode(err))
}
