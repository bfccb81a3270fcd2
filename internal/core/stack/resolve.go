package stack

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
)

// =============================================================================
// Image Source Resolution
// =============================================================================

// SourceKind discriminates how a service obtains its image.
type SourceKind string

const (
	// SourceReference pulls a pre-built image by reference.
	SourceReference SourceKind = "reference"
	// SourceBuild builds the image from a build context.
	SourceBuild SourceKind = "build"
)

// ResolveError describes why a service's image source could not be resolved.
type ResolveError struct {
	Service string
	Message string
	Err     error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s: %s: %v", e.Service, e.Message, e.Err)
	}
	return fmt.Sprintf("resolve %s: %s", e.Service, e.Message)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// NewResolveError creates a resolve error for a service.
func NewResolveError(service, message string, err error) *ResolveError {
	return &ResolveError{Service: service, Message: message, Err: err}
}

// ImageSource is the resolved image provenance for one service.
type ImageSource struct {
	Service string
	Kind    SourceKind

	// Reference is the runtime-resolvable image reference when Kind is
	// SourceReference.
	Reference string

	// Build fields, set when Kind is SourceBuild.
	Context    string
	Dockerfile string
	BuildArgs  map[string]string
	DefFile    string
	ImageFile  string
}

// RuntimeRef returns the image argument handed to the runtime: the normalized
// reference for pulled images, the built image artifact otherwise.
func (s ImageSource) RuntimeRef() string {
	if s.Kind == SourceBuild {
		return s.ImageFile
	}
	return s.Reference
}

// DockerfilePath returns the absolute path of the build's Dockerfile.
func (s ImageSource) DockerfilePath() string {
	return filepath.Join(s.Context, s.Dockerfile)
}

// ResolveOptions anchors relative paths during resolution.
type ResolveOptions struct {
	// ProjectDir anchors relative build contexts.
	ProjectDir string
	// ArtifactsDir is where definition files and built images are placed.
	ArtifactsDir string
}

// localImageSuffixes are file extensions the runtime accepts directly as
// local images, without a transport prefix.
var localImageSuffixes = []string{".sif", ".sqsh", ".img"}

// RuntimeImageRef normalizes an image reference for the runtime. References
// that already carry a URI scheme and local image files pass through
// unchanged; bare registry references gain a docker:// prefix.
func RuntimeImageRef(image string) string {
	if strings.Contains(image, "://") {
		return image
	}
	for _, suffix := range localImageSuffixes {
		if strings.HasSuffix(image, suffix) {
			return image
		}
	}
	return "docker://" + image
}

// Resolve determines the image source for a single service.
func Resolve(svc compose.Service, opts ResolveOptions) (ImageSource, error) {
	hasImage := svc.Image != ""
	hasBuild := svc.Build != nil

	switch {
	case hasImage && hasBuild:
		return ImageSource{}, NewResolveError(svc.Name, "declares both image and build", compose.ErrMalformedService)
	case !hasImage && !hasBuild:
		return ImageSource{}, NewResolveError(svc.Name, "no image source", ErrMissingImageSource)
	case hasImage:
		return ImageSource{
			Service:   svc.Name,
			Kind:      SourceReference,
			Reference: RuntimeImageRef(svc.Image),
		}, nil
	}

	ctx := svc.Build.Context
	if ctx == "" {
		ctx = "."
	}
	if !filepath.IsAbs(ctx) {
		ctx = filepath.Join(opts.ProjectDir, ctx)
	}

	dockerfile := svc.Build.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	return ImageSource{
		Service:    svc.Name,
		Kind:       SourceBuild,
		Context:    ctx,
		Dockerfile: dockerfile,
		BuildArgs:  svc.Build.Args,
		DefFile:    filepath.Join(opts.ArtifactsDir, DefFileName(svc.Name)),
		ImageFile:  filepath.Join(opts.ArtifactsDir, ImageFileName(svc.Name)),
	}, nil
}

// ResolveAll resolves image sources for every service in declaration order.
// Resolution is all-or-nothing: any failure aborts before the caller takes a
// single runtime action.
func ResolveAll(doc *compose.Document, opts ResolveOptions) ([]ImageSource, error) {
	sources := make([]ImageSource, 0, len(doc.Services))
	for _, svc := range doc.Services {
		src, err := Resolve(svc, opts)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}
