package graph

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrDependencyCycle   = errors.New("dependency cycle detected")
	ErrUnknownDependency = errors.New("unknown dependency target")
)

// CycleError reports the services participating in a dependency cycle.
type CycleError struct {
	Members []string // declaration order
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected among services: %s", strings.Join(e.Members, ", "))
}

func (e *CycleError) Unwrap() error {
	return ErrDependencyCycle
}

// UnknownDependencyError reports a depends_on entry naming a service the
// document does not declare.
type UnknownDependencyError struct {
	Service string
	Target  string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("service %q depends on undeclared service %q", e.Service, e.Target)
}

func (e *UnknownDependencyError) Unwrap() error {
	return ErrUnknownDependency
}
