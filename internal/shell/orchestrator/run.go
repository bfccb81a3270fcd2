package orchestrator

import (
	"context"
	"fmt"
	"os"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/graph"
	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/runtime"
)

// =============================================================================
// Run
// =============================================================================

// RunOneOff runs a single service in the foreground and returns when it
// exits. The service's build source is built first if its image is missing.
// Without an entrypoint override the image run script executes with the
// command as its arguments; an override bypasses the run script entirely.
func (o *Orchestrator) RunOneOff(ctx context.Context, doc *compose.Document, g *graph.Graph, opts RunOptions) error {
	svc, ok := doc.Service(opts.Service)
	if !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, opts.Service)
	}

	src, err := stack.Resolve(*svc, o.resolveOptions())
	if err != nil {
		return err
	}

	if src.Kind == stack.SourceBuild {
		if _, err := os.Stat(src.ImageFile); os.IsNotExist(err) {
			if err := o.ensureArtifactsDir(); err != nil {
				return err
			}
			if err := o.buildImage(ctx, src); err != nil {
				return err
			}
		}
	}

	if err := o.ensureArtifactsDir(); err != nil {
		return err
	}
	hostsBinds, err := o.writeHostsFiles(doc, g)
	if err != nil {
		return err
	}

	command := opts.Command
	if len(command) == 0 {
		command = svc.Command
	}

	spec := runtime.RunSpec{
		Image:         src.RuntimeRef(),
		Command:       command,
		Binds:         o.serviceBinds(svc),
		Env:           svc.Environment,
		WritableTmpfs: o.opts.WritableTmpfs,
	}
	if bind, ok := hostsBinds[svc.Name]; ok {
		spec.Binds = append(spec.Binds, bind)
	}
	if len(opts.Entrypoint) > 0 {
		spec.Exec = true
		spec.Command = append(append([]string{}, opts.Entrypoint...), command...)
	}

	o.logger.Info("running one-off command",
		"service", svc.Name,
		"image", spec.Image,
		"command", spec.Command,
	)
	return o.runtime.RunImage(ctx, spec)
}
