package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
)

// =============================================================================
// Build Tests
// =============================================================================

func TestBuild_TranslatesAndBuilds(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	writeDockerfile(t, o.opts.ProjectDir, "FROM alpine\nRUN apk add curl\nCMD [\"curl\", \"-V\"]\n")
	doc := docOf(
		compose.Service{Name: "web", Build: &compose.BuildConfig{Context: "."}},
		compose.Service{Name: "db", Image: "postgres:16"},
	)

	results, err := o.Build(context.Background(), doc)
	require.NoError(t, err)

	// Only the build-sourced service produces an image.
	require.Len(t, results, 1)
	assert.Equal(t, "web", results[0].Service)
	assert.Equal(t, filepath.Join(o.opts.ArtifactsDir, "web.def"), results[0].DefFile)
	assert.Equal(t, filepath.Join(o.opts.ArtifactsDir, "web.sif"), results[0].ImageFile)

	content, err := os.ReadFile(results[0].DefFile)
	require.NoError(t, err)
	expected := `Bootstrap: docker
From: alpine

%post
apk add curl

%runscript
exec curl -V "$@"

%startscript
exec curl -V "$@"
`
	assert.Equal(t, expected, string(content))

	require.Len(t, fake.buildCalls, 1)
	assert.Equal(t, results[0].ImageFile, fake.buildCalls[0].ImageFile)
}

func TestBuild_Idempotent(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	writeDockerfile(t, o.opts.ProjectDir, "FROM alpine\nRUN apk add curl\nCMD [\"curl\", \"-V\"]\n")
	doc := docOf(compose.Service{Name: "web", Build: &compose.BuildConfig{Context: "."}})

	results, err := o.Build(context.Background(), doc)
	require.NoError(t, err)
	first, err := os.ReadFile(results[0].DefFile)
	require.NoError(t, err)
	firstInfo, err := os.Stat(results[0].DefFile)
	require.NoError(t, err)

	results, err = o.Build(context.Background(), doc)
	require.NoError(t, err)
	second, err := os.ReadFile(results[0].DefFile)
	require.NoError(t, err)
	secondInfo, err := os.Stat(results[0].DefFile)
	require.NoError(t, err)

	// Identical bytes, and the unchanged file was not rewritten.
	assert.Equal(t, first, second)
	assert.Equal(t, firstInfo.ModTime(), secondInfo.ModTime())
}

func TestBuild_MissingDockerfile(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	doc := docOf(compose.Service{Name: "web", Build: &compose.BuildConfig{Context: "."}})

	_, err := o.Build(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildFailed)
	assert.Empty(t, fake.buildCalls)
}

func TestBuild_UnsupportedDirectiveFails(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	writeDockerfile(t, o.opts.ProjectDir, "FROM alpine AS builder\nFROM alpine\n")
	doc := docOf(compose.Service{Name: "web", Build: &compose.BuildConfig{Context: "."}})

	_, err := o.Build(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildFailed)
	assert.Empty(t, fake.buildCalls)
}

func TestBuild_BuildArgsApplied(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	writeDockerfile(t, o.opts.ProjectDir, "FROM alpine\nARG VERSION=latest\nRUN echo $VERSION\n")
	doc := docOf(compose.Service{Name: "web", Build: &compose.BuildConfig{
		Context: ".",
		Args:    map[string]string{"VERSION": "1.2.3"},
	}})

	results, err := o.Build(context.Background(), doc)
	require.NoError(t, err)

	content, err := os.ReadFile(results[0].DefFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "export VERSION=1.2.3")
}

func TestBuild_RuntimeFailure(t *testing.T) {
	fake := newFakeRuntime()
	fake.failBuild["web"] = assert.AnError
	o := newTestOrchestrator(t, fake, nil)

	writeDockerfile(t, o.opts.ProjectDir, "FROM alpine\n")
	doc := docOf(compose.Service{Name: "web", Build: &compose.BuildConfig{Context: "."}})

	_, err := o.Build(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildFailed)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "web", svcErr.Service)
	assert.Equal(t, "build", svcErr.Op)
}

func TestBuild_MissingImageSource(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	doc := docOf(
		compose.Service{Name: "web", Image: "nginx"},
		compose.Service{Name: "ghost"},
	)

	_, err := o.Build(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, stack.ErrMissingImageSource)
	assert.Empty(t, fake.buildCalls)
}
