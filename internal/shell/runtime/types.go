// Package runtime provides the apptainer CLI adapter for image builds and
// instance lifecycle management.
package runtime

import (
	"context"
)

// =============================================================================
// Invocation Specs
// =============================================================================

// BuildSpec defines an image build from a definition file.
type BuildSpec struct {
	// ImageFile is the output image path.
	ImageFile string
	// DefFile is the definition file to build from.
	DefFile string
	// Force overwrites an existing image file.
	Force bool
	// Fakeroot builds in a fakeroot namespace for unprivileged users.
	Fakeroot bool
	// Dir is the working directory for the build, anchoring relative
	// paths inside the definition file.
	Dir string
}

// StartSpec defines a long-running instance start.
type StartSpec struct {
	// Name is the instance name registered with the runtime.
	Name string
	// Image is the image source: a local image file or a transport
	// reference such as docker://.
	Image string
	// Binds are bind mounts in source:dest[:opts] form.
	Binds []string
	// Env is injected into the instance environment.
	Env map[string]string
	// Hostname sets the instance hostname.
	Hostname string
	// WritableTmpfs overlays a writable tmpfs on the image.
	WritableTmpfs bool
	// Args are passed to the instance start script.
	Args []string
}

// StopSpec defines an instance stop.
type StopSpec struct {
	// Name is the instance to stop. Ignored when All is set.
	Name string
	// All stops every instance owned by the current user.
	All bool
	// Force kills the instance immediately instead of signaling it.
	Force bool
	// TimeoutSeconds is how long the runtime waits for graceful shutdown
	// before killing. Zero uses the runtime default.
	TimeoutSeconds int
}

// ExecSpec defines a command execution inside a running instance.
type ExecSpec struct {
	// Instance is the target instance name.
	Instance string
	// Command is the argv to execute.
	Command []string
	// Env is injected into the process environment.
	Env map[string]string
}

// RunSpec defines a one-off foreground run against an image. By default the
// image's run script executes with Command as its arguments; with Exec set,
// Command bypasses the run script and executes directly.
type RunSpec struct {
	Image         string
	Command       []string
	Exec          bool
	Binds         []string
	Env           map[string]string
	WritableTmpfs bool
}

// =============================================================================
// Instance Info
// =============================================================================

// InstanceInfo is one entry from the runtime's instance list.
type InstanceInfo struct {
	Name       string `json:"instance"`
	PID        int    `json:"pid"`
	Image      string `json:"img"`
	IP         string `json:"ip"`
	LogErrPath string `json:"logErrPath"`
	LogOutPath string `json:"logOutPath"`
}

// instanceList is the JSON document printed by instance list.
type instanceList struct {
	Instances []InstanceInfo `json:"instances"`
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the container runtime surface the orchestrator drives.
type Client interface {
	// Version reports the runtime version string.
	Version(ctx context.Context) (string, error)

	// Build builds an image from a definition file.
	Build(ctx context.Context, spec BuildSpec) error

	// Instance operations
	InstanceStart(ctx context.Context, spec StartSpec) error
	InstanceStop(ctx context.Context, spec StopSpec) error
	InstanceList(ctx context.Context) ([]InstanceInfo, error)

	// Exec executes a command in a running instance.
	Exec(ctx context.Context, spec ExecSpec) error

	// RunImage runs an image in the foreground until it exits.
	RunImage(ctx context.Context, spec RunSpec) error
}
