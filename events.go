package containerobjects

import (
	"context"
	"fmt"
)

// Event names a point in the lifecycle where hooks run.
type Event int

const (
	BeforePreparingImage Event = iota + 1
	BeforeBuildingImage
	AfterImageBuilt
	AfterImagePrepared
	BeforeCreatingContainer
	AfterContainerCreated
	BeforeStartingContainer
	AfterContainerStarted
	BeforeStoppingContainer
	AfterContainerStopped
	BeforeRestartingContainer
	AfterContainerRestarted
	BeforeRemovingContainer
	AfterContainerRemoved
	BeforeReleasingImage
	AfterImageReleased
	BeforeRemovingImage
	AfterImageRemoved
)

var eventNames = map[Event]string{
	BeforePreparingImage:      "BeforePreparingImage",
	BeforeBuildingImage:       "BeforeBuildingImage",
	AfterImageBuilt:           "AfterImageBuilt",
	AfterImagePrepared:        "AfterImagePrepared",
	BeforeCreatingContainer:   "BeforeCreatingContainer",
	AfterContainerCreated:     "AfterContainerCreated",
	BeforeStartingContainer:   "BeforeStartingContainer",
	AfterContainerStarted:     "AfterContainerStarted",
	BeforeStoppingContainer:   "BeforeStoppingContainer",
	AfterContainerStopped:     "AfterContainerStopped",
	BeforeRestartingContainer: "BeforeRestartingContainer",
	AfterContainerRestarted:   "AfterContainerRestarted",
	BeforeRemovingContainer:   "BeforeRemovingContainer",
	AfterContainerRemoved:     "AfterContainerRemoved",
	BeforeReleasingImage:      "BeforeReleasingImage",
	AfterImageReleased:        "AfterImageReleased",
	BeforeRemovingImage:       "BeforeRemovingImage",
	AfterImageRemoved:         "AfterImageRemoved",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	_, ok := eventNames[e]
	return ok
}

// Hook is called at an Event. A returned error aborts the running lifecycle
// operation.
type Hook[T any] func(ctx context.Context, obj *T, oc *ObjectContext) error

// hook is a Hook with the type parameter erased.
type hook func(ctx context.Context, instance any, oc *ObjectContext) error

// runHooks calls the hooks registered for event in registration order.
func runHooks(ctx context.Context, oc *ObjectContext, event Event) error {
	for _, h := range oc.def.hooks[event] {
		if err := h(ctx, oc.Instance(), oc); err != nil {
			return fmt.Errorf("%s hook: %w", event, err)
		}
	}
	return nil
}
