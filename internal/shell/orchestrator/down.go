package orchestrator

import (
	"context"
	"errors"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/graph"
	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/runtime"
)

// =============================================================================
// Down
// =============================================================================

// Down stops the project's instances in reverse start order. Stopping is
// best effort: a failed stop is reported but never blocks the remaining
// services. Instances left over from a service since removed from the
// document are stopped last. Built artifacts stay on disk.
func (o *Orchestrator) Down(ctx context.Context, doc *compose.Document, g *graph.Graph) error {
	o.logger.Info("stopping project", "project", doc.Name)

	listed, err := o.runtime.InstanceList(ctx)
	if err != nil {
		return err
	}
	registered := make(map[string]bool, len(listed))
	for _, info := range listed {
		registered[info.Name] = true
	}

	var errs []error
	stopped := 0

	for _, name := range g.StopOrder() {
		instName := stack.InstanceName(doc.Name, name)
		if !registered[instName] {
			o.logger.Debug("instance not running", "service", name, "instance", instName)
			continue
		}
		if err := o.stopInstance(ctx, name, instName); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(registered, instName)
		stopped++
	}

	// Stale instances: still namespaced to this project, but no longer
	// declared in the document.
	for _, info := range listed {
		if !registered[info.Name] {
			continue
		}
		svcName, ok := stack.ServiceFromInstance(doc.Name, info.Name)
		if !ok {
			continue
		}
		o.logger.Info("stopping stale instance", "service", svcName, "instance", info.Name)
		if err := o.stopInstance(ctx, svcName, info.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		stopped++
	}

	o.logger.Info("project stopped", "project", doc.Name, "instances_stopped", stopped)
	return errors.Join(errs...)
}

func (o *Orchestrator) stopInstance(ctx context.Context, service, instance string) error {
	o.logger.Debug("stopping instance", "service", service, "instance", instance)
	err := o.runtime.InstanceStop(ctx, runtime.StopSpec{
		Name:           instance,
		TimeoutSeconds: o.stopSeconds(),
	})
	if err != nil {
		o.logger.Warn("failed to stop instance", "instance", instance, "error", err)
		return NewServiceError("stop", service, ErrStopFailed, err)
	}
	return nil
}

// =============================================================================
// Ps
// =============================================================================

// Ps reconstructs per-service status from the runtime's instance list.
// Declared services come first in declaration order; instances from services
// since removed from the document are appended.
func (o *Orchestrator) Ps(ctx context.Context, doc *compose.Document) ([]ServiceState, error) {
	listed, err := o.runtime.InstanceList(ctx)
	if err != nil {
		return nil, err
	}

	byInstance := make(map[string]runtime.InstanceInfo, len(listed))
	for _, info := range listed {
		byInstance[info.Name] = info
	}

	states := make([]ServiceState, 0, len(doc.Services))
	declared := make(map[string]bool, len(doc.Services))
	for _, svc := range doc.Services {
		declared[svc.Name] = true
		instName := stack.InstanceName(doc.Name, svc.Name)
		state := ServiceState{
			Service:  svc.Name,
			Instance: instName,
			Status:   stack.StatusStopped,
		}
		if info, ok := byInstance[instName]; ok {
			state.Status = stack.StatusRunning
			state.PID = info.PID
			state.Image = info.Image
		}
		states = append(states, state)
	}

	for _, info := range listed {
		svcName, ok := stack.ServiceFromInstance(doc.Name, info.Name)
		if !ok || declared[svcName] {
			continue
		}
		states = append(states, ServiceState{
			Service:  svcName,
			Instance: info.Name,
			Status:   stack.StatusRunning,
			PID:      info.PID,
			Image:    info.Image,
		})
	}

	return states, nil
}
