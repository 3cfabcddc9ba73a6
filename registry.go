package containerobjects

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// environmentIDs numbers environments so handles of one environment are
// never valid in another.
var environmentIDs atomic.Uint64

// Handle identifies a container object within its environment.
type Handle struct {
	env uint64
	seq uint64
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h == Handle{} }

func (h Handle) String() string {
	if h.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%d/%d", h.env, h.seq)
}

// =============================================================================
// Registry
// =============================================================================

// registry is the arena of live objects of one environment.
type registry struct {
	env     uint64
	next    atomic.Uint64
	mu      sync.RWMutex
	objects map[Handle]*ObjectContext
}

func newRegistry() *registry {
	return &registry{
		env:     environmentIDs.Add(1),
		objects: make(map[Handle]*ObjectContext),
	}
}

// reserve mints a handle for an object about to be created.
func (r *registry) reserve() Handle {
	return Handle{env: r.env, seq: r.next.Add(1)}
}

func (r *registry) register(oc *ObjectContext) error {
	if oc.handle.env != r.env || oc.env == nil || oc.env.registry != r {
		return fmt.Errorf("%w: %s", ErrWrongEnvironment, oc.handle)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[oc.handle]; ok {
		return illegalState("handle %s registered twice", oc.handle)
	}
	r.objects[oc.handle] = oc
	return nil
}

func (r *registry) lookup(h Handle) (*ObjectContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	oc, ok := r.objects[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, h)
	}
	return oc, nil
}

func (r *registry) unregister(h Handle) (*ObjectContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oc, ok := r.objects[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, h)
	}
	delete(r.objects, h)
	return oc, nil
}

// handles returns the registered handles in creation order. With topLevel
// set, nested objects whose parent is still registered are left out.
func (r *registry) handles(topLevel bool) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := lo.Keys(r.objects)
	if topLevel {
		hs = lo.Filter(hs, func(h Handle, _ int) bool {
			parent := r.objects[h].parent
			_, parentLive := r.objects[parent]
			return parent.IsZero() || !parentLive
		})
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].seq < hs[j].seq })
	return hs
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}
