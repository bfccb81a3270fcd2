package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/graph"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/runtime"
)

// =============================================================================
// Fake Runtime
// =============================================================================

// fakeRuntime records invocations and simulates instance registration.
type fakeRuntime struct {
	mu sync.Mutex

	opLog      []string
	buildCalls []runtime.BuildSpec
	startCalls []runtime.StartSpec
	stopCalls  []runtime.StopSpec
	runCalls   []runtime.RunSpec

	preListed []runtime.InstanceInfo
	running   map[string]runtime.InstanceInfo

	failBuild  map[string]error // service name -> error
	failStart  map[string]error // instance name -> error
	failStop   map[string]error // instance name -> error
	noRegister map[string]bool  // instance name -> never appears in list

	nextPID int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		running:    make(map[string]runtime.InstanceInfo),
		failBuild:  make(map[string]error),
		failStart:  make(map[string]error),
		failStop:   make(map[string]error),
		noRegister: make(map[string]bool),
		nextPID:    1000,
	}
}

func (f *fakeRuntime) Version(ctx context.Context) (string, error) {
	return "1.3.4-fake", nil
}

func (f *fakeRuntime) Build(ctx context.Context, spec runtime.BuildSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	service := strings.TrimSuffix(filepath.Base(spec.ImageFile), ".sif")
	f.opLog = append(f.opLog, "build "+service)
	f.buildCalls = append(f.buildCalls, spec)
	return f.failBuild[service]
}

func (f *fakeRuntime) InstanceStart(ctx context.Context, spec runtime.StartSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opLog = append(f.opLog, "start "+spec.Name)
	f.startCalls = append(f.startCalls, spec)
	if err := f.failStart[spec.Name]; err != nil {
		return err
	}
	if !f.noRegister[spec.Name] {
		f.nextPID++
		f.running[spec.Name] = runtime.InstanceInfo{
			Name:  spec.Name,
			PID:   f.nextPID,
			Image: spec.Image,
		}
	}
	return nil
}

func (f *fakeRuntime) InstanceStop(ctx context.Context, spec runtime.StopSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opLog = append(f.opLog, "stop "+spec.Name)
	f.stopCalls = append(f.stopCalls, spec)
	if err := f.failStop[spec.Name]; err != nil {
		return err
	}
	delete(f.running, spec.Name)
	return nil
}

func (f *fakeRuntime) InstanceList(ctx context.Context) ([]runtime.InstanceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	listed := append([]runtime.InstanceInfo{}, f.preListed...)
	for _, info := range f.running {
		listed = append(listed, info)
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].Name < listed[j].Name })
	return listed, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, spec runtime.ExecSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opLog = append(f.opLog, "exec "+spec.Instance)
	return nil
}

func (f *fakeRuntime) RunImage(ctx context.Context, spec runtime.RunSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opLog = append(f.opLog, "run "+spec.Image)
	f.runCalls = append(f.runCalls, spec)
	return nil
}

func (f *fakeRuntime) startedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.startCalls))
	for i, call := range f.startCalls {
		names[i] = call.Name
	}
	return names
}

func (f *fakeRuntime) stoppedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.stopCalls))
	for i, call := range f.stopCalls {
		names[i] = call.Name
	}
	return names
}

// =============================================================================
// Test Helpers
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func docOf(services ...compose.Service) *compose.Document {
	return &compose.Document{Name: "proj", Services: services}
}

func on(names ...string) []compose.Dependency {
	deps := make([]compose.Dependency, len(names))
	for i, n := range names {
		deps[i] = compose.Dependency{Service: n, Condition: compose.ConditionStarted}
	}
	return deps
}

func graphOf(t *testing.T, doc *compose.Document) *graph.Graph {
	t.Helper()
	g, err := graph.New(doc)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	return g
}

func newTestOrchestrator(t *testing.T, fake *fakeRuntime, mutate func(*Options)) *Orchestrator {
	t.Helper()
	opts := Options{
		ProjectDir:   t.TempDir(),
		StartTimeout: 250 * time.Millisecond, // keeps the timeout test fast
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(fake, discardLogger(), opts)
}
