package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/deffile"
	"github.com/apptainer-compose/apptainer-compose/internal/core/dockerfile"
	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/runtime"
)

// =============================================================================
// Build
// =============================================================================

// Build translates and builds an image for every service that declares a
// build source. Services pulling an image by reference have nothing to build
// and are skipped.
func (o *Orchestrator) Build(ctx context.Context, doc *compose.Document) ([]BuildResult, error) {
	sources, err := stack.ResolveAll(doc, o.resolveOptions())
	if err != nil {
		return nil, err
	}

	if err := o.ensureArtifactsDir(); err != nil {
		return nil, err
	}

	var results []BuildResult
	for _, src := range sources {
		if src.Kind != stack.SourceBuild {
			o.logger.Debug("nothing to build", "service", src.Service, "image", src.Reference)
			continue
		}
		if err := o.buildImage(ctx, src); err != nil {
			return results, err
		}
		results = append(results, BuildResult{
			Service:   src.Service,
			DefFile:   src.DefFile,
			ImageFile: src.ImageFile,
		})
	}

	o.logger.Info("build complete", "project", doc.Name, "images", len(results))
	return results, nil
}

// buildImage writes the definition file for a build source and builds the
// image from it.
func (o *Orchestrator) buildImage(ctx context.Context, src stack.ImageSource) error {
	if err := o.writeDefFile(src); err != nil {
		return err
	}

	o.logger.Info("building image",
		"service", src.Service,
		"definition", src.DefFile,
		"image", src.ImageFile,
	)

	err := o.runtime.Build(ctx, runtime.BuildSpec{
		ImageFile: src.ImageFile,
		DefFile:   src.DefFile,
		Force:     true,
		Fakeroot:  o.opts.Fakeroot,
		Dir:       src.Context,
	})
	if err != nil {
		return NewServiceError("build", src.Service, ErrBuildFailed, err)
	}
	return nil
}

// writeDefFile translates the service's Dockerfile and writes the resulting
// definition file. Translating the same Dockerfile always produces the same
// bytes, so an unchanged file is left untouched.
func (o *Orchestrator) writeDefFile(src stack.ImageSource) error {
	content, err := os.ReadFile(src.DockerfilePath())
	if err != nil {
		return NewServiceError("translate", src.Service, ErrBuildFailed, err)
	}

	instructions, err := dockerfile.ParseString(string(content))
	if err != nil {
		return NewServiceError("translate", src.Service, ErrBuildFailed, err)
	}

	def, err := deffile.Translate(instructions, deffile.Options{BuildArgs: src.BuildArgs})
	if err != nil {
		return NewServiceError("translate", src.Service, ErrBuildFailed, err)
	}
	for _, warning := range def.Warnings {
		o.logger.Warn("translation warning", "service", src.Service, "detail", warning)
	}

	rendered := def.Render()
	if existing, err := os.ReadFile(src.DefFile); err == nil && bytes.Equal(existing, rendered) {
		o.logger.Debug("definition unchanged", "service", src.Service, "definition", src.DefFile)
		return nil
	}

	if err := os.WriteFile(src.DefFile, rendered, 0o644); err != nil {
		return NewServiceError("translate", src.Service, ErrBuildFailed,
			fmt.Errorf("write definition file: %w", err))
	}
	o.logger.Debug("wrote definition file", "service", src.Service, "definition", src.DefFile)
	return nil
}
