package containerobjects

import (
	"context"
	"net/netip"
)

// Ref is a created container object. Close destroys it.
type Ref[T any] struct {
	manager *Manager
	handle  Handle
	object  *T
}

// Object returns the value the container object was created as.
func (r *Ref[T]) Object() *T { return r.object }

func (r *Ref[T]) Handle() Handle { return r.handle }

func (r *Ref[T]) Manager() *Manager { return r.manager }

// Context returns the lifecycle context, or ErrNotRegistered once destroyed.
func (r *Ref[T]) Context() (*ObjectContext, error) {
	return r.manager.Context(r.handle)
}

func (r *Ref[T]) ID() (ContainerID, error) {
	return r.manager.ContainerID(r.handle)
}

// Address returns the preferred container address.
func (r *Ref[T]) Address() (netip.Addr, error) {
	return r.manager.ContainerAddress(r.handle, AddressPreferred)
}

func (r *Ref[T]) Status(ctx context.Context) (ContainerStatus, error) {
	return r.manager.ContainerStatus(ctx, r.handle)
}

func (r *Ref[T]) IsRunning(ctx context.Context) (bool, error) {
	return r.manager.IsRunning(ctx, r.handle)
}

func (r *Ref[T]) Restart(ctx context.Context) error {
	return r.manager.Restart(ctx, r.handle)
}

// Close destroys the container object. Closing a destroyed object returns
// ErrNotRegistered.
func (r *Ref[T]) Close(ctx context.Context) error {
	return r.manager.Destroy(ctx, r.handle)
}
