package orchestrator

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrBuildFailed     = errors.New("image build failed")
	ErrStartFailed     = errors.New("service start failed")
	ErrStopFailed      = errors.New("service stop failed")
)

// ServiceError ties a lifecycle failure to the service it happened on. Kind
// is one of the package sentinels and classifies the failure; Err is the
// underlying cause.
type ServiceError struct {
	Op      string
	Service string
	Kind    error
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return target == e.Kind
}

// NewServiceError creates a classified lifecycle error.
func NewServiceError(op, service string, kind, err error) *ServiceError {
	return &ServiceError{Op: op, Service: service, Kind: kind, Err: err}
}
