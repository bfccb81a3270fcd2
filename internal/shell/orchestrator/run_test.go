package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
)

// =============================================================================
// RunOneOff Tests
// =============================================================================

func TestRunOneOff_UsesServiceCommand(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	doc := docOf(compose.Service{
		Name:    "web",
		Image:   "nginx",
		Command: []string{"nginx", "-g", "daemon off;"},
	})

	err := o.RunOneOff(context.Background(), doc, graphOf(t, doc), RunOptions{Service: "web"})
	require.NoError(t, err)

	require.Len(t, fake.runCalls, 1)
	call := fake.runCalls[0]
	assert.Equal(t, "docker://nginx", call.Image)
	assert.Equal(t, []string{"nginx", "-g", "daemon off;"}, call.Command)
	assert.False(t, call.Exec)
}

func TestRunOneOff_CommandOverride(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	doc := docOf(compose.Service{
		Name:    "web",
		Image:   "nginx",
		Command: []string{"nginx"},
	})

	err := o.RunOneOff(context.Background(), doc, graphOf(t, doc), RunOptions{
		Service: "web",
		Command: []string{"sh", "-c", "echo hello"},
	})
	require.NoError(t, err)

	require.Len(t, fake.runCalls, 1)
	assert.Equal(t, []string{"sh", "-c", "echo hello"}, fake.runCalls[0].Command)
	assert.False(t, fake.runCalls[0].Exec)
}

func TestRunOneOff_EntrypointBypassesRunscript(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	doc := docOf(compose.Service{Name: "web", Image: "nginx"})

	err := o.RunOneOff(context.Background(), doc, graphOf(t, doc), RunOptions{
		Service:    "web",
		Entrypoint: []string{"/bin/sh", "-c"},
		Command:    []string{"ls /"},
	})
	require.NoError(t, err)

	require.Len(t, fake.runCalls, 1)
	assert.True(t, fake.runCalls[0].Exec)
	assert.Equal(t, []string{"/bin/sh", "-c", "ls /"}, fake.runCalls[0].Command)
}

func TestRunOneOff_UnknownService(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	doc := docOf(compose.Service{Name: "web", Image: "nginx"})

	err := o.RunOneOff(context.Background(), doc, graphOf(t, doc), RunOptions{Service: "ghost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceNotFound)
	assert.Empty(t, fake.runCalls)
}

func TestRunOneOff_BuildsMissingImage(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	writeDockerfile(t, o.opts.ProjectDir, "FROM alpine\nCMD [\"sleep\", \"infinity\"]\n")
	doc := docOf(compose.Service{Name: "worker", Build: &compose.BuildConfig{Context: "."}})

	err := o.RunOneOff(context.Background(), doc, graphOf(t, doc), RunOptions{Service: "worker"})
	require.NoError(t, err)

	require.Len(t, fake.buildCalls, 1)
	require.Len(t, fake.runCalls, 1)
	assert.Equal(t, []string{"build worker", "run " + fake.runCalls[0].Image}, fake.opLog)
	assert.Equal(t, filepath.Join(o.opts.ArtifactsDir, "worker.sif"), fake.runCalls[0].Image)
}

func TestRunOneOff_SkipsBuildWhenImagePresent(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	writeDockerfile(t, o.opts.ProjectDir, "FROM alpine\n")
	doc := docOf(compose.Service{Name: "worker", Build: &compose.BuildConfig{Context: "."}})

	require.NoError(t, os.MkdirAll(o.opts.ArtifactsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(o.opts.ArtifactsDir, "worker.sif"), []byte("sif"), 0o644))

	err := o.RunOneOff(context.Background(), doc, graphOf(t, doc), RunOptions{Service: "worker"})
	require.NoError(t, err)

	assert.Empty(t, fake.buildCalls)
	require.Len(t, fake.runCalls, 1)
}

func TestRunOneOff_CarriesBindsAndEnvironment(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	doc := docOf(compose.Service{
		Name:        "web",
		Image:       "nginx",
		Environment: map[string]string{"MODE": "oneoff"},
		Volumes: []compose.VolumeMount{
			{Type: compose.VolumeMountTypeBind, Source: "./conf", Target: "/etc/nginx"},
		},
	})

	err := o.RunOneOff(context.Background(), doc, graphOf(t, doc), RunOptions{Service: "web"})
	require.NoError(t, err)

	require.Len(t, fake.runCalls, 1)
	call := fake.runCalls[0]
	assert.Equal(t, map[string]string{"MODE": "oneoff"}, call.Env)

	var hasConf, hasHosts bool
	for _, bind := range call.Binds {
		if strings.HasSuffix(bind, ":/etc/nginx") {
			hasConf = true
		}
		if strings.HasSuffix(bind, ":/etc/hosts") {
			hasHosts = true
		}
	}
	assert.True(t, hasConf, "volume bind missing: %v", call.Binds)
	assert.True(t, hasHosts, "hosts bind missing: %v", call.Binds)
}
