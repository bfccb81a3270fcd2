package compose

// =============================================================================
// Document - Main Output Type
// =============================================================================

// Document is a fully parsed compose document. Services preserve declaration
// order from the source YAML; the graph resolver uses that order to break
// ties deterministically.
type Document struct {
	// Name is the project name, used to namespace instance and artifact names.
	Name     string    `json:"name"`
	Services []Service `json:"services"`
	Networks []Network `json:"networks,omitempty"`
	Volumes  []Volume  `json:"volumes,omitempty"`
	// Warnings collects non-fatal findings from parsing, such as ignored
	// top-level keys.
	Warnings []string `json:"warnings,omitempty"`
}

// Service returns the named service, if declared.
func (d *Document) Service(name string) (*Service, bool) {
	for i := range d.Services {
		if d.Services[i].Name == name {
			return &d.Services[i], true
		}
	}
	return nil, false
}

// ServiceNames returns service names in declaration order.
func (d *Document) ServiceNames() []string {
	names := make([]string, len(d.Services))
	for i, svc := range d.Services {
		names[i] = svc.Name
	}
	return names
}

// =============================================================================
// Service Types
// =============================================================================

// Service represents a single service definition.
type Service struct {
	Name        string            `json:"name"`
	Image       string            `json:"image,omitempty"`
	Build       *BuildConfig      `json:"build,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Entrypoint  []string          `json:"entrypoint,omitempty"`
	Ports       []Port            `json:"ports,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Volumes     []VolumeMount     `json:"volumes,omitempty"`
	Networks    []string          `json:"networks,omitempty"`
	NetworkMode string            `json:"network_mode,omitempty"`
	DependsOn   []Dependency      `json:"depends_on,omitempty"`
	Restart     RestartPolicy     `json:"restart,omitempty"`
	HealthCheck *HealthCheck      `json:"healthcheck,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Dependencies returns the names of the services this service depends on.
func (s *Service) Dependencies() []string {
	names := make([]string, len(s.DependsOn))
	for i, dep := range s.DependsOn {
		names[i] = dep.Service
	}
	return names
}

// BuildConfig represents build configuration (optional).
type BuildConfig struct {
	Context    string            `json:"context"`
	Dockerfile string            `json:"dockerfile,omitempty"`
	Args       map[string]string `json:"args,omitempty"`
}

// Dependency is one depends_on relation with its readiness condition.
type Dependency struct {
	Service   string              `json:"service"`
	Condition DependencyCondition `json:"condition,omitempty"`
}

// DependencyCondition gates when a dependent may start.
type DependencyCondition string

const (
	ConditionStarted   DependencyCondition = "service_started"
	ConditionHealthy   DependencyCondition = "service_healthy"
	ConditionCompleted DependencyCondition = "service_completed_successfully"
)

// Port represents a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = dynamic)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp
	HostIP    string `json:"host_ip,omitempty"`   // Bind IP
}

// VolumeMount represents a volume mount in a service.
type VolumeMount struct {
	Type     VolumeMountType `json:"type"`   // bind, volume, tmpfs
	Source   string          `json:"source"` // Path or volume name
	Target   string          `json:"target"` // Container path
	ReadOnly bool            `json:"readonly"`
}

// Spec renders the mount back to src:dst[:ro] form, the shape the runtime's
// bind flag accepts.
func (m VolumeMount) Spec() string {
	spec := m.Source + ":" + m.Target
	if m.ReadOnly {
		spec += ":ro"
	}
	return spec
}

// VolumeMountType represents the type of volume mount.
type VolumeMountType string

const (
	VolumeMountTypeBind   VolumeMountType = "bind"
	VolumeMountTypeVolume VolumeMountType = "volume"
	VolumeMountTypeTmpfs  VolumeMountType = "tmpfs"
)

// RestartPolicy represents the restart policy. Carried through from the
// document; the runtime has no daemon to honor it, so it is informational.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// HealthCheck represents health check configuration.
type HealthCheck struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
	Retries     int      `json:"retries,omitempty"`
	StartPeriod string   `json:"start_period,omitempty"`
}

// =============================================================================
// Network Types
// =============================================================================

// Network represents a network definition. The target runtime has no
// multi-container virtual networks; declared networks drive the orchestrator's
// shared-namespace emulation instead.
type Network struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver,omitempty"`
	External bool              `json:"external"`
	Internal bool              `json:"internal"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// =============================================================================
// Volume Types
// =============================================================================

// Volume represents a named volume definition.
type Volume struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver,omitempty"`
	External bool              `json:"external"`
	Labels   map[string]string `json:"labels,omitempty"`
}
