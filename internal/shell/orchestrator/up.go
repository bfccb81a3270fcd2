package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/graph"
	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/runtime"
)

// =============================================================================
// Up
// =============================================================================

// Up brings the project up. Every image source is resolved and every build
// completes before the first instance starts; services then start in
// dependency order, each gated on its dependencies running. When a service
// fails, its transitive dependents are abandoned while unrelated services
// keep going, unless AbortOnFailure tears the whole project down instead.
func (o *Orchestrator) Up(ctx context.Context, doc *compose.Document, g *graph.Graph) ([]ServiceState, error) {
	o.logger.Info("starting project", "project", doc.Name, "services", len(doc.Services))
	for _, warning := range doc.Warnings {
		o.logger.Warn(warning)
	}
	for _, warning := range g.Warnings() {
		o.logger.Warn(warning)
	}
	o.warnUnsupported(doc)

	// 1. Resolve every image source before any runtime action
	sources, err := stack.ResolveAll(doc, o.resolveOptions())
	if err != nil {
		return nil, err
	}
	srcOf := make(map[string]stack.ImageSource, len(sources))
	for _, src := range sources {
		srcOf[src.Service] = src
	}

	instances := newInstances(doc)

	if err := o.ensureArtifactsDir(); err != nil {
		return nil, err
	}

	// 2. Build phase: all builds complete before the first start
	var failures []error
	for _, name := range g.StartOrder() {
		src := srcOf[name]
		if src.Kind != stack.SourceBuild {
			continue
		}
		inst := instances[name]
		if inst.Status == stack.StatusFailed {
			continue
		}
		_ = inst.Transition(stack.StatusBuilding)
		if err := o.buildImage(ctx, src); err != nil {
			o.failSubtree(g, instances, name, err)
			if o.opts.AbortOnFailure {
				return o.states(doc, instances), err
			}
			failures = append(failures, err)
		}
	}

	// 3. Hosts files for service name resolution
	hostsBinds, err := o.writeHostsFiles(doc, g)
	if err != nil {
		return o.states(doc, instances), err
	}

	// 4. Adopt instances still registered from a previous up
	if err := o.adoptRunning(ctx, doc, instances); err != nil {
		return o.states(doc, instances), err
	}

	// 5. Start phase
	if o.opts.Parallel > 1 {
		failures = append(failures, o.startWaves(ctx, doc, g, instances, srcOf, hostsBinds)...)
	} else {
		failures = append(failures, o.startSequential(ctx, doc, g, instances, srcOf, hostsBinds)...)
	}

	states := o.states(doc, instances)
	if len(failures) > 0 {
		return states, errors.Join(failures...)
	}

	o.logger.Info("project started", "project", doc.Name, "services", len(states))
	return states, nil
}

// =============================================================================
// Start Phases
// =============================================================================

// startSequential starts services one at a time in the deterministic start
// order.
func (o *Orchestrator) startSequential(ctx context.Context, doc *compose.Document, g *graph.Graph, instances map[string]*stack.Instance, srcOf map[string]stack.ImageSource, hostsBinds map[string]string) []error {
	var errs []error
	var started []string

	for _, name := range g.StartOrder() {
		if ctx.Err() != nil {
			o.teardownStarted(ctx, instances, started)
			return append(errs, ctx.Err())
		}

		inst := instances[name]
		if inst.Status == stack.StatusFailed || inst.Status == stack.StatusRunning {
			continue
		}

		svc, _ := doc.Service(name)
		if err := o.startService(ctx, inst, svc, srcOf[name], hostsBinds[name]); err != nil {
			o.failSubtree(g, instances, name, err)
			if o.opts.AbortOnFailure {
				o.teardownStarted(ctx, instances, started)
				return append(errs, err)
			}
			errs = append(errs, err)
			continue
		}
		started = append(started, name)
	}

	return errs
}

// startWaves starts services stage by stage. A stage only contains mutually
// independent services, so its members may start concurrently; the next stage
// begins once the whole stage settled.
func (o *Orchestrator) startWaves(ctx context.Context, doc *compose.Document, g *graph.Graph, instances map[string]*stack.Instance, srcOf map[string]stack.ImageSource, hostsBinds map[string]string) []error {
	var errs []error
	var started []string
	sem := make(chan struct{}, o.opts.Parallel)

	for _, wave := range g.Waves() {
		if ctx.Err() != nil {
			o.teardownStarted(ctx, instances, started)
			return append(errs, ctx.Err())
		}

		results := make(map[string]error, len(wave))
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, name := range wave {
			inst := instances[name]
			if inst.Status == stack.StatusFailed || inst.Status == stack.StatusRunning {
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(name string, inst *stack.Instance) {
				defer wg.Done()
				defer func() { <-sem }()

				svc, _ := doc.Service(name)
				err := o.startService(ctx, inst, svc, srcOf[name], hostsBinds[name])
				mu.Lock()
				results[name] = err
				mu.Unlock()
			}(name, inst)
		}
		wg.Wait()

		for _, name := range wave {
			err, ran := results[name]
			if !ran {
				continue
			}
			if err != nil {
				o.failSubtree(g, instances, name, err)
				errs = append(errs, err)
				continue
			}
			started = append(started, name)
		}

		if o.opts.AbortOnFailure && len(errs) > 0 {
			o.teardownStarted(ctx, instances, started)
			return errs
		}
	}

	return errs
}

// =============================================================================
// Single Service Start
// =============================================================================

// startService starts one instance and waits until the runtime registers it.
func (o *Orchestrator) startService(ctx context.Context, inst *stack.Instance, svc *compose.Service, src stack.ImageSource, hostsBind string) error {
	if err := inst.Transition(stack.StatusStarting); err != nil {
		return NewServiceError("start", svc.Name, ErrStartFailed, err)
	}

	spec := o.startSpec(inst, svc, src, hostsBind)
	inst.Image = spec.Image
	inst.Args = spec.Args

	o.logger.Info("starting service", "service", svc.Name, "instance", inst.Name, "image", spec.Image)
	if err := o.runtime.InstanceStart(ctx, spec); err != nil {
		_ = inst.TransitionToFailed(err.Error())
		return NewServiceError("start", svc.Name, ErrStartFailed, err)
	}

	info, err := o.awaitRegistered(ctx, inst.Name)
	if err != nil {
		// The start window elapsed; kill whatever half-started.
		_ = o.runtime.InstanceStop(context.WithoutCancel(ctx), runtime.StopSpec{Name: inst.Name, Force: true})
		_ = inst.TransitionToFailed(err.Error())
		return NewServiceError("start", svc.Name, ErrStartFailed, err)
	}

	inst.PID = info.PID
	_ = inst.Transition(stack.StatusRunning)
	o.logger.Info("service running", "service", svc.Name, "instance", inst.Name, "pid", info.PID)
	return nil
}

// startSpec assembles the runtime start invocation for a service.
func (o *Orchestrator) startSpec(inst *stack.Instance, svc *compose.Service, src stack.ImageSource, hostsBind string) runtime.StartSpec {
	spec := runtime.StartSpec{
		Name:          inst.Name,
		Image:         src.RuntimeRef(),
		Env:           svc.Environment,
		WritableTmpfs: o.opts.WritableTmpfs,
		Args:          svc.Command,
		Binds:         o.serviceBinds(svc),
	}
	if svc.NetworkMode == "" {
		spec.Hostname = svc.Name
	}
	if hostsBind != "" {
		spec.Binds = append(spec.Binds, hostsBind)
	}
	return spec
}

// awaitRegistered polls the instance list until the named instance appears or
// the start timeout elapses.
func (o *Orchestrator) awaitRegistered(ctx context.Context, name string) (runtime.InstanceInfo, error) {
	var found runtime.InstanceInfo
	check := func() error {
		listed, err := o.runtime.InstanceList(ctx)
		if err != nil {
			return err
		}
		for _, info := range listed {
			if info.Name == name {
				found = info
				return nil
			}
		}
		return fmt.Errorf("instance %s not registered within start timeout", name)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = o.opts.StartTimeout
	if err := backoff.Retry(check, backoff.WithContext(bo, ctx)); err != nil {
		return runtime.InstanceInfo{}, err
	}
	return found, nil
}

// =============================================================================
// Failure Handling
// =============================================================================

// failSubtree marks a failed service and abandons every transitive dependent
// that has not started yet.
func (o *Orchestrator) failSubtree(g *graph.Graph, instances map[string]*stack.Instance, name string, cause error) {
	inst := instances[name]
	if inst.Status != stack.StatusFailed {
		_ = inst.TransitionToFailed(cause.Error())
	}

	for _, dependent := range g.Subtree(name) {
		if dependent == name {
			continue
		}
		dinst := instances[dependent]
		if dinst.Status == stack.StatusFailed {
			continue
		}
		_ = dinst.TransitionToFailed(fmt.Sprintf("dependency %s failed", name))
		o.logger.Warn("abandoning service, dependency failed", "service", dependent, "dependency", name)
	}
}

// teardownStarted stops everything already started, newest first. It runs on
// abort or cancellation, so stops are detached from the canceled context.
func (o *Orchestrator) teardownStarted(ctx context.Context, instances map[string]*stack.Instance, started []string) {
	if len(started) == 0 {
		return
	}
	o.logger.Info("tearing down started services", "count", len(started))

	stopCtx := context.WithoutCancel(ctx)
	for i := len(started) - 1; i >= 0; i-- {
		inst := instances[started[i]]
		_ = inst.Transition(stack.StatusStopping)
		err := o.runtime.InstanceStop(stopCtx, runtime.StopSpec{
			Name:           inst.Name,
			TimeoutSeconds: o.stopSeconds(),
		})
		if err != nil {
			o.logger.Warn("failed to stop instance", "instance", inst.Name, "error", err)
			_ = inst.TransitionToFailed("stop failed: " + err.Error())
			continue
		}
		_ = inst.Transition(stack.StatusStopped)
	}
}

// =============================================================================
// Instance Bookkeeping
// =============================================================================

func newInstances(doc *compose.Document) map[string]*stack.Instance {
	instances := make(map[string]*stack.Instance, len(doc.Services))
	for _, svc := range doc.Services {
		instances[svc.Name] = stack.NewInstance(doc.Name, svc.Name)
	}
	return instances
}

// adoptRunning marks services whose instances are still registered from a
// previous up as running, so they are not started twice. A rebuilt image does
// not restart an adopted instance; that takes a down first.
func (o *Orchestrator) adoptRunning(ctx context.Context, doc *compose.Document, instances map[string]*stack.Instance) error {
	listed, err := o.runtime.InstanceList(ctx)
	if err != nil {
		return err
	}

	for _, info := range listed {
		svcName, ok := stack.ServiceFromInstance(doc.Name, info.Name)
		if !ok {
			continue
		}
		inst, ok := instances[svcName]
		if !ok || inst.Status == stack.StatusFailed {
			continue
		}
		_ = inst.Transition(stack.StatusStarting)
		inst.PID = info.PID
		inst.Image = info.Image
		_ = inst.Transition(stack.StatusRunning)
		o.logger.Info("service already running", "service", svcName, "instance", info.Name, "pid", info.PID)
	}
	return nil
}

// states renders the report in declaration order.
func (o *Orchestrator) states(doc *compose.Document, instances map[string]*stack.Instance) []ServiceState {
	states := make([]ServiceState, 0, len(doc.Services))
	for _, svc := range doc.Services {
		inst := instances[svc.Name]
		states = append(states, ServiceState{
			Service:  svc.Name,
			Instance: inst.Name,
			Status:   inst.Status,
			PID:      inst.PID,
			Image:    inst.Image,
			Error:    inst.ErrorMessage,
		})
	}
	return states
}

// =============================================================================
// Compose Feature Warnings
// =============================================================================

// warnUnsupported logs the compose features the runtime cannot honor.
func (o *Orchestrator) warnUnsupported(doc *compose.Document) {
	for _, svc := range doc.Services {
		if len(svc.Ports) > 0 {
			o.logger.Warn("ports are not published; instances share the host network", "service", svc.Name)
		}
		if svc.Restart != "" && svc.Restart != compose.RestartNo {
			o.logger.Warn("restart policy is not enforced", "service", svc.Name, "policy", svc.Restart)
		}
	}
}

// serviceBinds renders the service's mounts as runtime bind specs. Named
// volumes become directories under the artifacts dir; tmpfs mounts have no
// bind equivalent and are dropped with a warning.
func (o *Orchestrator) serviceBinds(svc *compose.Service) []string {
	var binds []string
	for _, m := range svc.Volumes {
		switch m.Type {
		case compose.VolumeMountTypeVolume:
			dir := filepath.Join(o.opts.ArtifactsDir, "volumes", m.Source)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				o.logger.Warn("cannot provision volume directory", "service", svc.Name, "volume", m.Source, "error", err)
				continue
			}
			binds = append(binds, compose.VolumeMount{Source: dir, Target: m.Target, ReadOnly: m.ReadOnly}.Spec())
		case compose.VolumeMountTypeTmpfs:
			o.logger.Warn("tmpfs mounts are not supported, ignoring", "service", svc.Name, "target", m.Target)
		default:
			source := m.Source
			if !filepath.IsAbs(source) {
				source = filepath.Join(o.opts.ProjectDir, source)
			}
			binds = append(binds, compose.VolumeMount{Source: source, Target: m.Target, ReadOnly: m.ReadOnly}.Spec())
		}
	}
	return binds
}
