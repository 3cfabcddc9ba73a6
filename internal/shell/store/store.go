package store

import (
	"context"
	"time"
)

// =============================================================================
// Store Interface
// =============================================================================

// Kind is the type of a recorded Docker resource.
type Kind string

const (
	KindContainer Kind = "container"
	KindImage     Kind = "image"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindContainer || k == KindImage
}

// Resource is one ledger entry. Ref is the container ID for containers and
// the image tag for images.
type Resource struct {
	ID         int64
	Kind       Kind
	Ref        string
	Session    string
	Object     string
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// ListOptions filters outstanding resources.
type ListOptions struct {
	Kind    Kind   // Empty for all kinds
	Session string // Empty for all sessions
}

// Store defines the resource ledger.
type Store interface {
	// Record adds a resource, or re-opens it if it was released before.
	Record(ctx context.Context, r Resource) error
	// Release marks a resource as removed.
	Release(ctx context.Context, kind Kind, ref string) error
	// Outstanding lists resources that were recorded and never released,
	// oldest first.
	Outstanding(ctx context.Context, opts ListOptions) ([]Resource, error)
	Close() error
}
