package lifecycle

import (
	"errors"
	"fmt"
)

// =============================================================================
// Errors
// =============================================================================

var ErrIllegalTransition = errors.New("illegal lifecycle transition")

// TransitionError reports a rejected stage transition.
type TransitionError struct {
	From Stage
	To   Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal lifecycle transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// =============================================================================
// Phase
// =============================================================================

// Phase groups stages into creation and destruction.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseCreation
	PhaseDestruction
)

func (p Phase) String() string {
	switch p {
	case PhaseCreation:
		return "creation"
	case PhaseDestruction:
		return "destruction"
	default:
		return "none"
	}
}

// =============================================================================
// Stage
// =============================================================================

// Stage is one of the ordered lifecycle states of a container object.
// The zero value means the object has not entered the lifecycle yet.
type Stage int32

const (
	StageNone Stage = iota
	InstanceCreated
	ImagePrepared
	ContainerCreated
	ContainerStarted
	ContainerStopped
	ContainerRemoved
	ImageReleased
	InstanceDiscarded
)

var stageNames = map[Stage]string{
	StageNone:         "none",
	InstanceCreated:   "instance_created",
	ImagePrepared:     "image_prepared",
	ContainerCreated:  "container_created",
	ContainerStarted:  "container_started",
	ContainerStopped:  "container_stopped",
	ContainerRemoved:  "container_removed",
	ImageReleased:     "image_released",
	InstanceDiscarded: "instance_discarded",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int32(s))
}

// Valid reports whether s is one of the eight lifecycle stages.
func (s Stage) Valid() bool {
	return s >= InstanceCreated && s <= InstanceDiscarded
}

// Phase returns the phase the stage belongs to.
func (s Stage) Phase() Phase {
	switch {
	case s >= InstanceCreated && s <= ContainerStarted:
		return PhaseCreation
	case s >= ContainerStopped && s <= InstanceDiscarded:
		return PhaseDestruction
	default:
		return PhaseNone
	}
}

// Stages returns the eight lifecycle stages in order.
func Stages() []Stage {
	return []Stage{
		InstanceCreated,
		ImagePrepared,
		ContainerCreated,
		ContainerStarted,
		ContainerStopped,
		ContainerRemoved,
		ImageReleased,
		InstanceDiscarded,
	}
}

// =============================================================================
// Transitions
// =============================================================================

// validTransitions defines the allowed stage transitions.
var validTransitions = map[Stage][]Stage{
	StageNone:        {InstanceCreated},
	InstanceCreated:  {ImagePrepared},
	ImagePrepared:    {ContainerCreated},
	ContainerCreated: {ContainerStarted},
	ContainerStarted: {ContainerStopped},
	ContainerStopped: {ContainerRemoved, ContainerStarted},
	ContainerRemoved: {ImageReleased},
	ImageReleased:    {InstanceDiscarded},
}

// CanTransition reports whether an object may move from one stage to another.
func CanTransition(from, to Stage) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates a stage transition.
func Transition(from, to Stage) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// IsRestart reports whether the transition re-enters the started stage.
func IsRestart(from, to Stage) bool {
	return from == ContainerStopped && to == ContainerStarted
}
