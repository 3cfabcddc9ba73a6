package containerobjects

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/containerobjects/internal/core/lifecycle"
	"github.com/artpar/containerobjects/internal/shell/docker"
)

// =============================================================================
// Object Context
// =============================================================================

// ObjectContext is the lifecycle record of one container object. Only the
// Manager changes it; hooks and extensions read it.
type ObjectContext struct {
	env    *Environment
	def    *blueprint
	handle Handle
	parent Handle
	logger *slog.Logger

	// stage is read without locks by log relays.
	stage atomic.Int32

	mu              sync.RWMutex
	instance        any
	image           ImageName
	imageBuilt      bool
	autoRemoveImage bool
	containerID     ContainerID
	network         *NetworkSettings
	logSince        time.Time
	children        []*ObjectContext
	subs            []docker.LogSubscription
}

func newObjectContext(env *Environment, def *blueprint, handle, parent Handle) *ObjectContext {
	return &ObjectContext{
		env:    env,
		def:    def,
		handle: handle,
		parent: parent,
		logger: env.logger.With("object", def.name, "handle", handle.String()),
	}
}

// Name returns the definition name.
func (oc *ObjectContext) Name() string { return oc.def.name }

// Handle returns the registry handle of the object.
func (oc *ObjectContext) Handle() Handle { return oc.handle }

// Parent returns the handle of the object that nests this one, or the zero
// Handle.
func (oc *ObjectContext) Parent() Handle { return oc.parent }

func (oc *ObjectContext) Stage() Stage { return Stage(oc.stage.Load()) }

func (oc *ObjectContext) Phase() Phase { return oc.Stage().Phase() }

func (oc *ObjectContext) Environment() *Environment { return oc.env }

func (oc *ObjectContext) Logger() *slog.Logger { return oc.logger }

// Instance returns the user value, a *T for a Definition[T].
func (oc *ObjectContext) Instance() any {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	return oc.instance
}

// ImageLocator returns the prepared image, or nil before ImagePrepared.
func (oc *ObjectContext) ImageLocator() ImageLocator {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	if oc.image == "" {
		return nil
	}
	return oc.image
}

// ImageBuilt reports whether the image was built for this object.
func (oc *ObjectContext) ImageBuilt() bool {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	return oc.imageBuilt
}

// AutoRemoveImage reports whether the image is removed on destroy.
func (oc *ObjectContext) AutoRemoveImage() bool {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	return oc.autoRemoveImage
}

func (oc *ObjectContext) ContainerID() ContainerID {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	return oc.containerID
}

// NetworkSettings returns the settings read when the container last started.
func (oc *ObjectContext) NetworkSettings() *NetworkSettings {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	return oc.network
}

// Children returns the nested objects in creation order.
func (oc *ObjectContext) Children() []*ObjectContext {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	return append([]*ObjectContext(nil), oc.children...)
}

// =============================================================================
// Mutation (Manager only)
// =============================================================================

func (oc *ObjectContext) setInstance(instance any) {
	oc.mu.Lock()
	oc.instance = instance
	oc.mu.Unlock()
}

func (oc *ObjectContext) setImage(image ImageName, built, autoRemove bool) {
	oc.mu.Lock()
	oc.image = image
	oc.imageBuilt = built
	oc.autoRemoveImage = autoRemove
	oc.mu.Unlock()
}

func (oc *ObjectContext) setContainer(id ContainerID) {
	oc.mu.Lock()
	oc.containerID = id
	oc.mu.Unlock()
}

func (oc *ObjectContext) setNetwork(network *NetworkSettings, since time.Time) {
	oc.mu.Lock()
	oc.network = network
	oc.logSince = since
	oc.mu.Unlock()
}

func (oc *ObjectContext) addChild(child *ObjectContext) {
	oc.mu.Lock()
	oc.children = append(oc.children, child)
	oc.mu.Unlock()
}

func (oc *ObjectContext) addSubscription(sub docker.LogSubscription) {
	oc.mu.Lock()
	oc.subs = append(oc.subs, sub)
	oc.mu.Unlock()
}

// takeSubscriptions removes and returns the open log subscriptions.
func (oc *ObjectContext) takeSubscriptions() []docker.LogSubscription {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	subs := oc.subs
	oc.subs = nil
	return subs
}

// setStage moves the object to stage after checking the transition and the
// data the stage requires.
func (oc *ObjectContext) setStage(to Stage) error {
	from := oc.Stage()
	if err := lifecycle.Transition(from, to); err != nil {
		return fmt.Errorf("%w: %w", ErrIllegalState, err)
	}

	oc.mu.RLock()
	var missing string
	switch {
	case oc.instance == nil:
		missing = "instance"
	case to >= ImagePrepared && oc.image == "":
		missing = "image"
	case to >= ContainerCreated && oc.containerID == "":
		missing = "container"
	case to >= ContainerStarted && oc.network == nil:
		missing = "network settings"
	}
	oc.mu.RUnlock()
	if missing != "" {
		return illegalState("%s cannot enter %s without %s", oc.def.name, to, missing)
	}

	oc.stage.Store(int32(to))
	oc.logger.Debug("stage changed", "from", from.String(), "stage", to.String())
	return nil
}
