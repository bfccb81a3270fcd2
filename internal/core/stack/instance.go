// Package stack holds the domain model for a compose invocation: per-service
// instance state, the lifecycle state machine, artifact naming and image
// source resolution. Everything here is pure; the orchestrator owns the
// mutable instance set and drives transitions.
package stack

import (
	"errors"
	"time"
)

// =============================================================================
// Instance Errors
// =============================================================================

var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrMissingImageSource = errors.New("service declares neither image nor build")
)

// =============================================================================
// Instance Status
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transitions can leave the status.
func (s Status) Terminal() bool {
	return s == StatusFailed
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions. Failed is reachable
// from every non-terminal state through TransitionToFailed and is terminal.
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusBuilding, StatusStarting},
	StatusBuilding: {StatusStarting},
	StatusStarting: {StatusRunning},
	StatusRunning:  {StatusStopping},
	StatusStopping: {StatusStopped},
	StatusStopped:  {StatusStarting},
	StatusFailed:   {}, // Terminal state
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to Status) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// =============================================================================
// Instance
// =============================================================================

// Instance is the runtime state for one service in a compose invocation. The
// orchestrator exclusively owns the instance set; nothing else mutates it.
type Instance struct {
	Service string `json:"service"`
	// Name is the runtime instance name, namespaced by project.
	Name   string `json:"name"`
	Image  string `json:"image,omitempty"`
	Status Status `json:"status"`
	PID    int    `json:"pid,omitempty"`
	// Args records the resolved invocation arguments the instance was
	// started with.
	Args         []string   `json:"args,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	StoppedAt    *time.Time `json:"stopped_at,omitempty"`
}

// NewInstance creates a pending instance for a service.
func NewInstance(project, service string) *Instance {
	now := time.Now().UTC()
	return &Instance{
		Service:   service,
		Name:      InstanceName(project, service),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition attempts to move the instance to a new status.
func (i *Instance) Transition(to Status) error {
	if err := ValidateTransition(i.Status, to); err != nil {
		return err
	}

	i.Status = to
	i.UpdatedAt = time.Now().UTC()

	// Clear a stale error when restarting
	if to == StatusStarting {
		i.ErrorMessage = ""
	}

	if to == StatusRunning {
		now := time.Now().UTC()
		i.StartedAt = &now
	}
	if to == StatusStopped {
		now := time.Now().UTC()
		i.StoppedAt = &now
	}

	return nil
}

// TransitionToFailed moves the instance to failed with a reason. Valid from
// any non-terminal status.
func (i *Instance) TransitionToFailed(reason string) error {
	switch i.Status {
	case StatusPending, StatusBuilding, StatusStarting, StatusRunning, StatusStopping:
		i.Status = StatusFailed
		i.ErrorMessage = reason
		i.UpdatedAt = time.Now().UTC()
		return nil
	default:
		return ErrInvalidTransition
	}
}
