// Package e2e exercises the orchestrator against a real apptainer
// installation.
//
// These tests pull and build real images and need network access. They
// skip themselves when no runtime binary is installed. Run with:
//
//	go test -v -timeout 10m ./tests/e2e/...
package e2e

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/graph"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/orchestrator"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/runtime"
)

// =============================================================================
// Runtime Guard
// =============================================================================

// requireRuntime returns a client for the locally installed runtime binary,
// skipping the test when none is found. APPTAINER_COMPOSE_RUNTIME_BINARY
// selects an alternative binary, e.g. singularity.
func requireRuntime(t *testing.T) *runtime.Apptainer {
	t.Helper()

	rt := runtime.NewApptainer(os.Getenv("APPTAINER_COMPOSE_RUNTIME_BINARY"), nil, quietLogger())
	if err := rt.Available(); err != nil {
		t.Skipf("runtime binary not installed: %v", err)
	}
	return rt
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Project Setup
// =============================================================================

// loadStack parses a compose document rooted in a fresh temp directory and
// returns the pieces an orchestrator operation needs.
func loadStack(t *testing.T, name, composeYAML string) (*compose.Document, *graph.Graph, string) {
	t.Helper()

	dir := t.TempDir()
	doc, err := compose.ParseDocument([]byte(composeYAML), compose.Options{
		ProjectName: name,
		WorkingDir:  dir,
	})
	require.NoError(t, err)

	g, err := graph.New(doc)
	require.NoError(t, err)

	return doc, g, dir
}

// newOrchestrator wires a real runtime client to a project directory.
func newOrchestrator(rt *runtime.Apptainer, dir string) *orchestrator.Orchestrator {
	return orchestrator.New(rt, quietLogger(), orchestrator.Options{
		ProjectDir:   dir,
		StartTimeout: 2 * time.Minute,
		StopTimeout:  30 * time.Second,
	})
}
