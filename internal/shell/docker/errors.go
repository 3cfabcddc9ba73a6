package docker

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")

	// Image errors
	ErrImageNotFound    = errors.New("image not found")
	ErrImageInUse       = errors.New("image is in use")
	ErrImagePullFailed  = errors.New("image pull failed")
	ErrImageBuildFailed = errors.New("image build failed")

	// Connection errors
	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = errors.New("docker connection failed")
	ErrTimeout              = errors.New("operation timed out")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, image)
	ID      string // Entity ID or name if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Engine Error Mapping
// =============================================================================

// imageError classifies an Engine API error returned for an image operation.
func imageError(op, ref string, err error) error {
	switch {
	case errdefs.IsNotFound(err):
		return NewDockerError(op, "image", ref, "image not found", ErrImageNotFound)
	case errdefs.IsConflict(err):
		return NewDockerError(op, "image", ref, "image is in use", ErrImageInUse)
	case errdefs.IsUnavailable(err):
		return NewDockerError(op, "image", ref, err.Error(), ErrConnectionFailed)
	case errdefs.IsDeadlineExceeded(err):
		return NewDockerError(op, "image", ref, err.Error(), ErrTimeout)
	default:
		return NewDockerError(op, "image", ref, err.Error(), err)
	}
}

// containerError classifies an Engine API error returned for a container
// operation.
func containerError(op, ref string, err error) error {
	switch {
	case errdefs.IsNotFound(err):
		return NewDockerError(op, "container", ref, "container not found", ErrContainerNotFound)
	case errdefs.IsConflict(err):
		return NewDockerError(op, "container", ref, "container already exists", ErrContainerAlreadyExists)
	case errdefs.IsUnavailable(err):
		return NewDockerError(op, "container", ref, err.Error(), ErrConnectionFailed)
	case errdefs.IsDeadlineExceeded(err):
		return NewDockerError(op, "container", ref, err.Error(), ErrTimeout)
	default:
		return NewDockerError(op, "container", ref, err.Error(), err)
	}
}
