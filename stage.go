package containerobjects

import "github.com/artpar/containerobjects/internal/core/lifecycle"

// Stage is a lifecycle stage of a container object.
type Stage = lifecycle.Stage

// Phase groups stages into creation and destruction.
type Phase = lifecycle.Phase

const (
	InstanceCreated   = lifecycle.InstanceCreated
	ImagePrepared     = lifecycle.ImagePrepared
	ContainerCreated  = lifecycle.ContainerCreated
	ContainerStarted  = lifecycle.ContainerStarted
	ContainerStopped  = lifecycle.ContainerStopped
	ContainerRemoved  = lifecycle.ContainerRemoved
	ImageReleased     = lifecycle.ImageReleased
	InstanceDiscarded = lifecycle.InstanceDiscarded

	PhaseCreation    = lifecycle.PhaseCreation
	PhaseDestruction = lifecycle.PhaseDestruction
)

// ContainerStatus is the coarse state of a managed container.
type ContainerStatus int

const (
	StatusUnknown ContainerStatus = iota
	StatusCreated
	StatusStarted
	StatusStopped
)

func (s ContainerStatus) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusStarted:
		return "STARTED"
	case StatusStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
