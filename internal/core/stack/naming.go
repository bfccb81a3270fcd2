package stack

import (
	"fmt"
	"strings"
)

// =============================================================================
// Naming Conventions
// =============================================================================

// Artifact and instance names are namespaced by project so that several
// compose invocations can share one runtime without colliding.

// InstanceName returns the runtime instance name for a service.
// Format: <project>_<service>
func InstanceName(project, service string) string {
	return fmt.Sprintf("%s_%s", project, service)
}

// ServiceFromInstance extracts the service name from an instance name that
// belongs to the given project. Returns false for instances from other
// projects.
func ServiceFromInstance(project, instance string) (string, bool) {
	return strings.CutPrefix(instance, project+"_")
}

// DefFileName returns the definition file artifact name for a service.
func DefFileName(service string) string {
	return service + ".def"
}

// ImageFileName returns the image artifact name for a built service.
func ImageFileName(service string) string {
	return service + ".sif"
}

// HostsFileName returns the per-service hosts file artifact used to emulate
// name resolution between instances on a common network.
func HostsFileName(service string) string {
	return "hosts." + service
}
