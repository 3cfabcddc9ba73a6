package containerobjects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/artpar/containerobjects/internal/shell/docker"
)

// =============================================================================
// Manager
// =============================================================================

// Manager drives container objects through their lifecycle. Create, Destroy
// and Restart run synchronously on the calling goroutine. Different objects
// may be driven concurrently; calls for the same object must be serialized by
// the caller.
type Manager struct {
	env     *Environment
	logger  *slog.Logger
	metrics *lifecycleMetrics
}

func newManager(env *Environment, metrics *lifecycleMetrics) *Manager {
	return &Manager{
		env:     env,
		logger:  env.logger.With("component", "manager"),
		metrics: metrics,
	}
}

func (m *Manager) Environment() *Environment { return m.env }

// Create creates a container object from def and returns a reference to it.
func Create[T any](ctx context.Context, m *Manager, def *Definition[T]) (*Ref[T], error) {
	h, instance, err := m.CreateObject(ctx, def)
	if err != nil {
		return nil, err
	}
	return &Ref[T]{manager: m, handle: h, object: instance.(*T)}, nil
}

// CreateObject creates a container object and returns its handle and value.
// On failure nothing is registered: log streams already opened are closed and
// nested objects already created are destroyed. Docker resources of the
// failed object itself are left behind; an environment with a ledger records
// them for pruning.
func (m *Manager) CreateObject(ctx context.Context, s Schema) (Handle, any, error) {
	oc, err := m.create(ctx, s.schema(), Handle{})
	if err != nil {
		return Handle{}, nil, err
	}
	return oc.handle, oc.Instance(), nil
}

func (m *Manager) create(ctx context.Context, def *blueprint, parent Handle) (_ *ObjectContext, err error) {
	if m.env.closed.Load() {
		return nil, ErrEnvironmentClosed
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	if err := m.env.extensions.checkSlots(def); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := m.metrics.startSpan(ctx, "containerobjects.Create", def.name)
	defer span.End()

	oc := newObjectContext(m.env, def, m.env.registry.reserve(), parent)
	defer func() {
		m.metrics.recordDuration(ctx, m.metrics.createDuration, start, def.name, err)
		if err != nil {
			err = m.fail(span, oc, "create", err)
			m.abandon(ctx, oc)
		}
	}()

	if err := m.instantiate(ctx, oc); err != nil {
		return nil, err
	}
	if err := m.prepareImage(ctx, oc); err != nil {
		return nil, err
	}
	if err := m.createContainer(ctx, oc); err != nil {
		return nil, err
	}
	if err := m.startContainer(ctx, oc); err != nil {
		return nil, err
	}
	if err := m.env.registry.register(oc); err != nil {
		return nil, err
	}

	oc.logger.Info("container object created",
		"container_id", oc.ContainerID().Short(),
		"image", oc.image.String(),
	)
	return oc, nil
}

// abandon releases what a failed create left attached to oc. Nested objects
// are destroyed in reverse creation order; their failures are only logged.
func (m *Manager) abandon(ctx context.Context, oc *ObjectContext) {
	closeLogRelay(oc)
	children := oc.Children()
	for i := len(children) - 1; i >= 0; i-- {
		child := children[i]
		if _, err := m.env.registry.unregister(child.handle); err != nil {
			continue
		}
		if err := m.destroy(ctx, child); err != nil {
			oc.logger.Warn("destroying nested object of failed create", "nested", child.Name(), "error", err)
		}
	}
}

// fail wraps err in a LifecycleError and records it on the span.
func (m *Manager) fail(span trace.Span, oc *ObjectContext, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	oc.logger.Error("container object "+op+" failed", "stage", oc.Stage().String(), "error", err)
	var lerr *LifecycleError
	if errors.As(err, &lerr) && lerr.Object == oc.Name() && lerr.Op == op {
		return err
	}
	return &LifecycleError{Op: op, Object: oc.Name(), Stage: oc.Stage(), Err: err}
}

// enter moves the object to stage and applies the extension contributions
// for it.
func (m *Manager) enter(ctx context.Context, oc *ObjectContext, stage Stage) error {
	if err := oc.setStage(stage); err != nil {
		return err
	}
	m.metrics.recordStage(ctx, oc.Name(), stage)
	return m.env.extensions.inject(oc)
}

// =============================================================================
// Creation Stages
// =============================================================================

func (m *Manager) instantiate(ctx context.Context, oc *ObjectContext) error {
	instance := oc.def.newInstance()
	if instance == nil {
		return fmt.Errorf("%w: constructor of %s returned nil", ErrInstantiation, oc.Name())
	}
	oc.setInstance(instance)

	for _, n := range oc.def.nested {
		child, err := m.create(ctx, n.def, oc.handle)
		if err != nil {
			return fmt.Errorf("nested %s: %w", n.def.name, err)
		}
		oc.addChild(child)
		n.set(instance, child.Instance())
	}

	return m.enter(ctx, oc, InstanceCreated)
}

func (m *Manager) prepareImage(ctx context.Context, oc *ObjectContext) error {
	if err := runHooks(ctx, oc, BeforePreparingImage); err != nil {
		return err
	}

	if oc.def.images[0].kind == builtImage {
		if err := runHooks(ctx, oc, BeforeBuildingImage); err != nil {
			return err
		}
	}

	cfg, err := newResolver(ctx, oc).image()
	if err != nil {
		return err
	}

	images := m.env.Docker().Images()
	built := cfg.build != nil
	if built {
		oc.logger.Info("building image", "image", cfg.name.String())
		if _, err := images.Build(ctx, *cfg.build); err != nil {
			return fmt.Errorf("building image %s: %w", cfg.name, err)
		}
		if err := runHooks(ctx, oc, AfterImageBuilt); err != nil {
			return err
		}
	} else {
		present, err := images.Available(ctx, cfg.name)
		if err != nil {
			return fmt.Errorf("checking image %s: %w", cfg.name, err)
		}
		if present {
			// Only images this object brought in are removed later.
			cfg.autoRemove = false
		}
		if !present || cfg.forcePull {
			oc.logger.Info("pulling image", "image", cfg.name.String())
			if err := images.Pull(ctx, cfg.name); err != nil {
				return fmt.Errorf("pulling image %s: %w", cfg.name, err)
			}
		}
	}

	oc.setImage(cfg.name, built, cfg.autoRemove)
	if err := m.enter(ctx, oc, ImagePrepared); err != nil {
		return err
	}
	return runHooks(ctx, oc, AfterImagePrepared)
}

func (m *Manager) createContainer(ctx context.Context, oc *ObjectContext) error {
	if err := runHooks(ctx, oc, BeforeCreatingContainer); err != nil {
		return err
	}

	spec, err := newResolver(ctx, oc).containerSpec()
	if err != nil {
		return err
	}
	id, err := m.env.Docker().Containers().Create(ctx, spec)
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}

	oc.setContainer(id)
	if err := m.enter(ctx, oc, ContainerCreated); err != nil {
		return err
	}
	return runHooks(ctx, oc, AfterContainerCreated)
}

func (m *Manager) startContainer(ctx context.Context, oc *ObjectContext) error {
	if err := runHooks(ctx, oc, BeforeStartingContainer); err != nil {
		return err
	}
	id := oc.ContainerID()
	if id == "" {
		return illegalState("%s has no container to start", oc.Name())
	}

	since := time.Now()
	containers := m.env.Docker().Containers()
	if err := containers.Start(ctx, id); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}
	info, err := containers.Inspect(ctx, id)
	if err != nil {
		return fmt.Errorf("inspecting container: %w", err)
	}
	network := info.Network
	if network == nil {
		network = &NetworkSettings{}
	}

	oc.setNetwork(network, since)
	if err := m.enter(ctx, oc, ContainerStarted); err != nil {
		return err
	}
	if err := runHooks(ctx, oc, AfterContainerStarted); err != nil {
		return err
	}
	return armLogRelay(ctx, oc, since)
}

// =============================================================================
// Destruction Stages
// =============================================================================

// Destroy stops and removes the container, releases the image and discards
// the object. The handle is unregistered before any Docker call, so a second
// Destroy fails with ErrNotRegistered.
func (m *Manager) Destroy(ctx context.Context, h Handle) error {
	oc, err := m.env.registry.unregister(h)
	if err != nil {
		return err
	}
	return m.destroy(ctx, oc)
}

func (m *Manager) destroy(ctx context.Context, oc *ObjectContext) (err error) {
	start := time.Now()
	ctx, span := m.metrics.startSpan(ctx, "containerobjects.Destroy", oc.Name())
	defer span.End()
	defer func() {
		m.metrics.recordDuration(ctx, m.metrics.destroyDuration, start, oc.Name(), err)
		if err != nil {
			err = m.fail(span, oc, "destroy", err)
		}
	}()

	// A failed restart leaves the container stopped.
	if oc.Stage() != ContainerStopped {
		if err := m.stopContainer(ctx, oc); err != nil {
			return err
		}
	}
	if err := m.removeContainer(ctx, oc); err != nil {
		return err
	}
	if err := m.releaseImage(ctx, oc); err != nil {
		return err
	}
	if err := m.discard(ctx, oc); err != nil {
		return err
	}
	oc.logger.Info("container object destroyed")
	return nil
}

func (m *Manager) stopContainer(ctx context.Context, oc *ObjectContext) error {
	if err := runHooks(ctx, oc, BeforeStoppingContainer); err != nil {
		return err
	}
	id := oc.ContainerID()
	if id == "" {
		return illegalState("%s has no container to stop", oc.Name())
	}

	exitCode, err := m.env.Docker().Containers().Stop(ctx, id, nil)
	if err != nil {
		return fmt.Errorf("stopping container: %w", err)
	}
	oc.logger.Debug("container stopped", "container_id", id.Short(), "exit_code", exitCode)

	if err := m.enter(ctx, oc, ContainerStopped); err != nil {
		return err
	}
	closeLogRelay(oc)
	return runHooks(ctx, oc, AfterContainerStopped)
}

func (m *Manager) removeContainer(ctx context.Context, oc *ObjectContext) error {
	if err := runHooks(ctx, oc, BeforeRemovingContainer); err != nil {
		return err
	}
	if err := m.env.Docker().Containers().Remove(ctx, oc.ContainerID(), docker.RemoveOptions{RemoveVolumes: true}); err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	if err := m.enter(ctx, oc, ContainerRemoved); err != nil {
		return err
	}
	return runHooks(ctx, oc, AfterContainerRemoved)
}

// releaseImage removes the image when the object owns it. Removal failures
// are logged and never stop the teardown.
func (m *Manager) releaseImage(ctx context.Context, oc *ObjectContext) error {
	if err := runHooks(ctx, oc, BeforeReleasingImage); err != nil {
		return err
	}

	if oc.AutoRemoveImage() {
		if err := runHooks(ctx, oc, BeforeRemovingImage); err != nil {
			return err
		}
		image := oc.ImageLocator()
		err := m.env.Docker().Images().Remove(ctx, image, docker.ImageRemoveOptions{})
		switch {
		case err == nil:
			if err := runHooks(ctx, oc, AfterImageRemoved); err != nil {
				return err
			}
		case errors.Is(err, ErrImageNotFound):
			oc.logger.Warn("image already removed", "image", image.String())
		case errors.Is(err, ErrImageInUse):
			oc.logger.Warn("image still in use, not removed", "image", image.String())
		default:
			oc.logger.Warn("image removal failed", "image", image.String(), "error", err)
		}
	}

	if err := m.enter(ctx, oc, ImageReleased); err != nil {
		return err
	}
	return runHooks(ctx, oc, AfterImageReleased)
}

// discard destroys nested objects in reverse creation order and enters the
// final stage. Failures of nested objects are reported after the parent is
// discarded.
func (m *Manager) discard(ctx context.Context, oc *ObjectContext) error {
	var errs []error
	children := oc.Children()
	instance := oc.Instance()
	for i := len(children) - 1; i >= 0; i-- {
		child := children[i]
		if _, err := m.env.registry.unregister(child.handle); err != nil {
			// Destroyed directly by the caller.
			oc.logger.Debug("nested object already destroyed", "nested", child.Name())
		} else if err := m.destroy(ctx, child); err != nil {
			errs = append(errs, err)
		}
		for _, n := range oc.def.nested {
			if n.def == child.def {
				n.set(instance, nil)
			}
		}
	}

	if err := m.enter(ctx, oc, InstanceDiscarded); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// =============================================================================
// Restart
// =============================================================================

// Restart stops and starts the container again. The container and image
// stay the same; network settings are read again and log receivers resume
// from the new start.
func (m *Manager) Restart(ctx context.Context, h Handle) (err error) {
	oc, err := m.env.registry.lookup(h)
	if err != nil {
		return err
	}

	start := time.Now()
	ctx, span := m.metrics.startSpan(ctx, "containerobjects.Restart", oc.Name())
	defer span.End()
	defer func() {
		m.metrics.recordDuration(ctx, m.metrics.restartDuration, start, oc.Name(), err)
		if err != nil {
			err = m.fail(span, oc, "restart", err)
		}
	}()

	if err := runHooks(ctx, oc, BeforeRestartingContainer); err != nil {
		return err
	}
	if err := m.stopContainer(ctx, oc); err != nil {
		return err
	}
	if err := m.startContainer(ctx, oc); err != nil {
		return err
	}
	oc.logger.Info("container object restarted")
	return runHooks(ctx, oc, AfterContainerRestarted)
}

// =============================================================================
// Queries
// =============================================================================

// Context returns the lifecycle context of a registered object.
func (m *Manager) Context(h Handle) (*ObjectContext, error) {
	return m.env.registry.lookup(h)
}

// Handles returns the handles of all registered objects in creation order.
func (m *Manager) Handles() []Handle {
	return m.env.registry.handles(false)
}

func (m *Manager) ContainerID(h Handle) (ContainerID, error) {
	oc, err := m.env.registry.lookup(h)
	if err != nil {
		return "", err
	}
	return oc.ContainerID(), nil
}

// ContainerStatus asks Docker for the state of the object's container.
func (m *Manager) ContainerStatus(ctx context.Context, h Handle) (ContainerStatus, error) {
	oc, err := m.env.registry.lookup(h)
	if err != nil {
		return StatusUnknown, err
	}
	status, err := m.env.Docker().Containers().Status(ctx, oc.ContainerID())
	if err != nil {
		return StatusUnknown, err
	}
	return containerStatus(status), nil
}

func (m *Manager) IsRunning(ctx context.Context, h Handle) (bool, error) {
	status, err := m.ContainerStatus(ctx, h)
	if err != nil {
		return false, err
	}
	return status == StatusStarted, nil
}

func (m *Manager) NetworkSettings(h Handle) (*NetworkSettings, error) {
	oc, err := m.env.registry.lookup(h)
	if err != nil {
		return nil, err
	}
	return oc.NetworkSettings(), nil
}

// ContainerAddress returns the container address of the given family.
func (m *Manager) ContainerAddress(h Handle, family AddressFamily) (netip.Addr, error) {
	oc, err := m.env.registry.lookup(h)
	if err != nil {
		return netip.Addr{}, err
	}
	if oc.Stage() != ContainerStarted {
		return netip.Addr{}, illegalState("%s is %s, not started", oc.Name(), oc.Stage())
	}
	addr, ok := oc.NetworkSettings().Address(family)
	if !ok {
		return netip.Addr{}, illegalState("%s has no address of the requested family", oc.Name())
	}
	return addr, nil
}
