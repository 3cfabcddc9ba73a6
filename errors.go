package containerobjects

import (
	"errors"
	"fmt"

	"github.com/artpar/containerobjects/internal/shell/docker"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrConfiguration marks an invalid container object definition.
	ErrConfiguration = errors.New("invalid container object configuration")

	// ErrNotRegistered is returned for handles that are not registered with
	// the environment, including handles of other environments and handles
	// of objects that were already destroyed.
	ErrNotRegistered = errors.New("container object not registered")

	// ErrWrongEnvironment is returned when a context created by one
	// environment is registered with another.
	ErrWrongEnvironment = errors.New("container object belongs to another environment")

	// ErrIllegalState is returned when an object lacks the data its current
	// stage requires.
	ErrIllegalState = errors.New("illegal container object state")

	// ErrReadinessTimeout is returned when a readiness wait exceeds its limit.
	ErrReadinessTimeout = errors.New("container object not ready in time")

	// ErrInstantiation is returned when a definition cannot produce a value.
	ErrInstantiation = errors.New("cannot instantiate container object")

	// ErrExtensionConflict is returned when two extensions contribute the
	// same capability at the same stage.
	ErrExtensionConflict = errors.New("extensions contribute the same capability")

	// ErrEnvironmentClosed is returned for operations on a closed environment.
	ErrEnvironmentClosed = errors.New("environment closed")
)

// Gateway errors, re-exported for callers matching with errors.Is.
var (
	ErrImageNotFound     = docker.ErrImageNotFound
	ErrContainerNotFound = docker.ErrContainerNotFound
	ErrImageInUse        = docker.ErrImageInUse
)

// ConfigError describes a problem with a definition.
type ConfigError struct {
	Type    string // Definition name
	Field   string // Offending builder entry, if any
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Field != "" {
		return fmt.Sprintf("container object %s: %s: %s", e.Type, e.Field, msg)
	}
	return fmt.Sprintf("container object %s: %s", e.Type, msg)
}

// Is makes every ConfigError match ErrConfiguration.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(typ, field, message string, err error) *ConfigError {
	return &ConfigError{Type: typ, Field: field, Message: message, Err: err}
}

// LifecycleError wraps a failure of a lifecycle operation.
type LifecycleError struct {
	Op     string // create, destroy, restart
	Object string
	Stage  Stage // Stage the object had reached
	Err    error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s %s at stage %s: %v", e.Op, e.Object, e.Stage, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

func illegalState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIllegalState, fmt.Sprintf(format, args...))
}
