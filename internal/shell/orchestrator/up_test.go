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
	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/runtime"
)

// =============================================================================
// Up Tests
// =============================================================================

func TestUp_StartsInDependencyOrder(t *testing.T) {
	doc := docOf(
		compose.Service{Name: "web", Image: "nginx", DependsOn: on("db")},
		compose.Service{Name: "db", Image: "postgres:16"},
	)
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	states, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.NoError(t, err)

	assert.Equal(t, []string{"proj_db", "proj_web"}, fake.startedNames())

	require.Len(t, states, 2)
	assert.Equal(t, "web", states[0].Service)
	assert.Equal(t, stack.StatusRunning, states[0].Status)
	assert.NotZero(t, states[0].PID)
	assert.Equal(t, stack.StatusRunning, states[1].Status)
}

func TestUp_ImageReferencesPrefixed(t *testing.T) {
	doc := docOf(compose.Service{Name: "db", Image: "postgres:16"})
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	_, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.NoError(t, err)

	require.Len(t, fake.startCalls, 1)
	assert.Equal(t, "docker://postgres:16", fake.startCalls[0].Image)
}

func TestUp_BuildsBeforeAnyStart(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	writeDockerfile(t, o.opts.ProjectDir, "FROM alpine\nRUN apk add curl\nCMD [\"curl\", \"-V\"]\n")
	doc := docOf(
		compose.Service{Name: "web", Build: &compose.BuildConfig{Context: "."}, DependsOn: on("db")},
		compose.Service{Name: "db", Image: "postgres:16"},
	)

	_, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.NoError(t, err)

	// The build happens before either instance starts, even though db
	// precedes web in start order.
	require.GreaterOrEqual(t, len(fake.opLog), 3)
	assert.Equal(t, "build web", fake.opLog[0])
	assert.Equal(t, "start proj_db", fake.opLog[1])
	assert.Equal(t, "start proj_web", fake.opLog[2])

	defPath := filepath.Join(o.opts.ArtifactsDir, "web.def")
	content, err := os.ReadFile(defPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Bootstrap: docker")
	assert.Contains(t, string(content), "From: alpine")

	require.Len(t, fake.buildCalls, 1)
	assert.True(t, fake.buildCalls[0].Force)
	assert.Equal(t, defPath, fake.buildCalls[0].DefFile)
}

func TestUp_WritesHostsFiles(t *testing.T) {
	doc := docOf(
		compose.Service{Name: "web", Image: "nginx", DependsOn: on("db")},
		compose.Service{Name: "db", Image: "postgres:16"},
	)
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	_, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(o.opts.ArtifactsDir, "hosts.web"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "127.0.0.1 localhost")
	assert.Contains(t, string(content), "127.0.0.1 web")
	assert.Contains(t, string(content), "127.0.0.1 db")

	// Every instance mounts its hosts file over /etc/hosts.
	for _, call := range fake.startCalls {
		found := false
		for _, bind := range call.Binds {
			if strings.HasSuffix(bind, ":/etc/hosts") {
				found = true
			}
		}
		assert.True(t, found, "instance %s has no hosts bind", call.Name)
	}
}

func TestUp_DependencyFailurePrunesSubtree(t *testing.T) {
	doc := docOf(
		compose.Service{Name: "web", Image: "nginx", DependsOn: on("api")},
		compose.Service{Name: "api", Image: "ghcr.io/acme/api", DependsOn: on("db")},
		compose.Service{Name: "db", Image: "postgres:16"},
		compose.Service{Name: "worker", Image: "busybox"},
	)
	fake := newFakeRuntime()
	fake.failStart["proj_db"] = runtime.NewInvocationError("instance start", nil, 255, "boom")
	o := newTestOrchestrator(t, fake, nil)

	states, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartFailed)

	// Only db was attempted from the failed chain; worker is unrelated
	// and still started.
	assert.Equal(t, []string{"proj_db", "proj_worker"}, fake.startedNames())

	byService := make(map[string]ServiceState)
	for _, s := range states {
		byService[s.Service] = s
	}
	assert.Equal(t, stack.StatusFailed, byService["db"].Status)
	assert.Equal(t, stack.StatusFailed, byService["api"].Status)
	assert.Contains(t, byService["api"].Error, "dependency db failed")
	assert.Equal(t, stack.StatusFailed, byService["web"].Status)
	assert.Equal(t, stack.StatusRunning, byService["worker"].Status)
}

func TestUp_AbortOnFailureTearsDown(t *testing.T) {
	doc := docOf(
		compose.Service{Name: "db", Image: "postgres:16"},
		compose.Service{Name: "api", Image: "ghcr.io/acme/api", DependsOn: on("db")},
		compose.Service{Name: "worker", Image: "busybox"},
	)
	fake := newFakeRuntime()
	fake.failStart["proj_api"] = runtime.NewInvocationError("instance start", nil, 1, "boom")
	o := newTestOrchestrator(t, fake, func(opts *Options) {
		opts.AbortOnFailure = true
	})

	states, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.Error(t, err)

	// db started before api failed and is torn down again; worker is
	// never reached.
	assert.Equal(t, []string{"proj_db", "proj_api"}, fake.startedNames())
	assert.Equal(t, []string{"proj_db"}, fake.stoppedNames())

	byService := make(map[string]ServiceState)
	for _, s := range states {
		byService[s.Service] = s
	}
	assert.Equal(t, stack.StatusStopped, byService["db"].Status)
	assert.Equal(t, stack.StatusFailed, byService["api"].Status)
}

func TestUp_BuildFailurePrunesDependents(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	writeDockerfile(t, o.opts.ProjectDir, "FROM alpine\n")
	doc := docOf(
		compose.Service{Name: "api", Build: &compose.BuildConfig{Context: "."}},
		compose.Service{Name: "web", Image: "nginx", DependsOn: on("api")},
		compose.Service{Name: "db", Image: "postgres:16"},
	)
	fake.failBuild["api"] = runtime.NewInvocationError("build", nil, 255, "conveyor failed")

	states, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildFailed)

	// web is abandoned with its dependency; db still starts.
	assert.Equal(t, []string{"proj_db"}, fake.startedNames())

	byService := make(map[string]ServiceState)
	for _, s := range states {
		byService[s.Service] = s
	}
	assert.Equal(t, stack.StatusFailed, byService["api"].Status)
	assert.Equal(t, stack.StatusFailed, byService["web"].Status)
	assert.Equal(t, stack.StatusRunning, byService["db"].Status)
}

func TestUp_StartTimeoutKillsInstance(t *testing.T) {
	doc := docOf(compose.Service{Name: "web", Image: "nginx"})
	fake := newFakeRuntime()
	fake.noRegister["proj_web"] = true
	o := newTestOrchestrator(t, fake, nil)

	states, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartFailed)

	require.Len(t, states, 1)
	assert.Equal(t, stack.StatusFailed, states[0].Status)

	// The stuck instance is force-killed.
	require.Len(t, fake.stopCalls, 1)
	assert.True(t, fake.stopCalls[0].Force)
}

func TestUp_AdoptsAlreadyRunningInstances(t *testing.T) {
	doc := docOf(compose.Service{Name: "web", Image: "nginx"})
	fake := newFakeRuntime()
	fake.preListed = []runtime.InstanceInfo{
		{Name: "proj_web", PID: 777, Image: "docker://nginx"},
	}
	o := newTestOrchestrator(t, fake, nil)

	states, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.NoError(t, err)

	assert.Empty(t, fake.startedNames())
	require.Len(t, states, 1)
	assert.Equal(t, stack.StatusRunning, states[0].Status)
	assert.Equal(t, 777, states[0].PID)
}

func TestUp_ServiceCommandPassedToStartScript(t *testing.T) {
	doc := docOf(compose.Service{
		Name:    "web",
		Image:   "nginx",
		Command: []string{"nginx", "-g", "daemon off;"},
	})
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	_, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.NoError(t, err)

	require.Len(t, fake.startCalls, 1)
	assert.Equal(t, []string{"nginx", "-g", "daemon off;"}, fake.startCalls[0].Args)
}

func TestUp_WritableTmpfsPropagates(t *testing.T) {
	doc := docOf(compose.Service{Name: "web", Image: "nginx"})
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, func(opts *Options) {
		opts.WritableTmpfs = true
	})

	_, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.NoError(t, err)

	require.Len(t, fake.startCalls, 1)
	assert.True(t, fake.startCalls[0].WritableTmpfs)
}

func TestUp_ParallelWavesRespectDependencies(t *testing.T) {
	doc := docOf(
		compose.Service{Name: "web", Image: "nginx", DependsOn: on("api", "cache")},
		compose.Service{Name: "api", Image: "ghcr.io/acme/api", DependsOn: on("db")},
		compose.Service{Name: "cache", Image: "redis", DependsOn: on("db")},
		compose.Service{Name: "db", Image: "postgres:16"},
	)
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, func(opts *Options) {
		opts.Parallel = 2
	})

	states, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.NoError(t, err)

	for _, s := range states {
		assert.Equal(t, stack.StatusRunning, s.Status, "service %s", s.Service)
	}

	started := fake.startedNames()
	require.Len(t, started, 4)
	assert.Equal(t, "proj_db", started[0])
	assert.Equal(t, "proj_web", started[3])
	assert.ElementsMatch(t, []string{"proj_api", "proj_cache"}, started[1:3])
}

func TestUp_CanceledContext(t *testing.T) {
	doc := docOf(compose.Service{Name: "web", Image: "nginx"})
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Up(ctx, doc, graphOf(t, doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.startedNames())
}

// =============================================================================
// Bind Tests
// =============================================================================

func TestUp_VolumeBinds(t *testing.T) {
	fake := newFakeRuntime()
	o := newTestOrchestrator(t, fake, nil)

	doc := docOf(compose.Service{
		Name:  "db",
		Image: "postgres:16",
		Volumes: []compose.VolumeMount{
			{Type: compose.VolumeMountTypeBind, Source: "./init", Target: "/docker-entrypoint-initdb.d", ReadOnly: true},
			{Type: compose.VolumeMountTypeVolume, Source: "pgdata", Target: "/var/lib/postgresql/data"},
		},
	})

	_, err := o.Up(context.Background(), doc, graphOf(t, doc))
	require.NoError(t, err)

	require.Len(t, fake.startCalls, 1)
	binds := fake.startCalls[0].Binds

	require.GreaterOrEqual(t, len(binds), 2)
	assert.Equal(t, filepath.Join(o.opts.ProjectDir, "init")+":/docker-entrypoint-initdb.d:ro", binds[0])

	// Named volume provisioned under the artifacts dir
	volDir := filepath.Join(o.opts.ArtifactsDir, "volumes", "pgdata")
	assert.Equal(t, volDir+":/var/lib/postgresql/data", binds[1])
	info, statErr := os.Stat(volDir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

// =============================================================================
// Helpers
// =============================================================================

func writeDockerfile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(content), 0o644))
}
