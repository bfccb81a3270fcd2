package main

import (
	"context"
	"errors"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/deffile"
	"github.com/apptainer-compose/apptainer-compose/internal/core/graph"
	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/orchestrator"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/runtime"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitParseError   = 2
	ExitCycleError   = 3
	ExitBuildError   = 4
	ExitRuntimeError = 5

	// ExitInterrupted follows the shell convention for SIGINT.
	ExitInterrupted = 130
)

// exitCode classifies an error into the exit code contract. Build failures
// wrap the runtime invocation that caused them, so the build class is checked
// before the runtime class.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess

	case errors.Is(err, context.Canceled):
		return ExitInterrupted

	case errors.Is(err, graph.ErrDependencyCycle),
		errors.Is(err, graph.ErrUnknownDependency):
		return ExitCycleError

	case errors.Is(err, orchestrator.ErrBuildFailed),
		errors.Is(err, deffile.ErrUnsupportedDirective),
		errors.Is(err, deffile.ErrMissingFrom):
		return ExitBuildError

	case errors.Is(err, orchestrator.ErrStartFailed),
		errors.Is(err, orchestrator.ErrStopFailed),
		errors.Is(err, runtime.ErrInvocationFailed),
		errors.Is(err, runtime.ErrBinaryNotFound):
		return ExitRuntimeError

	case errors.Is(err, compose.ErrEmptyDocument),
		errors.Is(err, compose.ErrInvalidYAML),
		errors.Is(err, compose.ErrNoServices),
		errors.Is(err, compose.ErrMalformedService),
		errors.Is(err, compose.ErrInvalidPort),
		errors.Is(err, compose.ErrUnsupportedFeature),
		errors.Is(err, stack.ErrMissingImageSource),
		errors.Is(err, orchestrator.ErrServiceNotFound):
		return ExitParseError

	default:
		return ExitConfigError
	}
}
