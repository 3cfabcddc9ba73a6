package docker

import (
	"context"
	"io"
	"net/netip"
	"time"
)

// =============================================================================
// Gateway Interfaces
// =============================================================================

// Docker is the gateway the lifecycle engine drives. It groups image and
// container operations the same way the Engine API does.
type Docker interface {
	Images() Images
	Containers() Containers
	Ping(ctx context.Context) error
	Close() error
}

// Images defines image operations.
type Images interface {
	// Inspect returns image details. Absent images yield ErrImageNotFound.
	Inspect(ctx context.Context, image ImageLocator) (*ImageInfo, error)
	// Available reports whether the image exists locally.
	Available(ctx context.Context, image ImageLocator) (bool, error)
	List(ctx context.Context, opts ImageListOptions) ([]ImageInfo, error)
	Pull(ctx context.Context, image ImageName) error
	// Build submits a build context and returns the ID of the built image.
	Build(ctx context.Context, spec ImageSpec) (ImageID, error)
	Remove(ctx context.Context, image ImageLocator, opts ImageRemoveOptions) error
}

// Containers defines container operations.
type Containers interface {
	Create(ctx context.Context, spec ContainerSpec) (ContainerID, error)
	Start(ctx context.Context, container ContainerLocator) error
	// Stop stops the container and returns its exit code.
	Stop(ctx context.Context, container ContainerLocator, timeout *time.Duration) (int, error)
	Restart(ctx context.Context, container ContainerLocator, timeout *time.Duration) error
	Pause(ctx context.Context, container ContainerLocator) error
	Unpause(ctx context.Context, container ContainerLocator) error
	Remove(ctx context.Context, container ContainerLocator, opts RemoveOptions) error
	Inspect(ctx context.Context, container ContainerLocator) (*ContainerInfo, error)
	Status(ctx context.Context, container ContainerLocator) (ContainerStatus, error)
	List(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	// Logs opens a streaming subscription. Frames are delivered to
	// spec.OnFrame on a goroutine owned by the subscription.
	Logs(ctx context.Context, container ContainerLocator, spec LogSpec) (LogSubscription, error)
}

// =============================================================================
// Locators
// =============================================================================

// ImageLocator references an image by ID or by name.
type ImageLocator interface {
	imageRef() string
	String() string
}

// ImageID is the content-addressed ID of an image.
type ImageID string

// ImageName is a repository reference such as "alpine:3.18".
type ImageName string

func (id ImageID) imageRef() string  { return string(id) }
func (id ImageID) String() string    { return string(id) }
func (n ImageName) imageRef() string { return string(n) }
func (n ImageName) String() string   { return string(n) }

// ContainerLocator references a container by ID or by name.
type ContainerLocator interface {
	containerRef() string
	String() string
}

// ContainerID is the ID of a container.
type ContainerID string

// ContainerName is the name of a container.
type ContainerName string

func (id ContainerID) containerRef() string  { return string(id) }
func (id ContainerID) String() string        { return string(id) }
func (n ContainerName) containerRef() string { return string(n) }
func (n ContainerName) String() string       { return string(n) }

// Short returns the first 12 characters of the ID.
func (id ContainerID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// =============================================================================
// Image Types
// =============================================================================

// ImageSpec describes an image build.
type ImageSpec struct {
	// Context is a tar archive, optionally gzip compressed.
	Context    io.Reader
	Dockerfile string // Path of the Dockerfile inside the context
	Tags       []ImageName
	Labels     map[string]string
	BuildArgs  map[string]*string
	Pull       bool // Always attempt to pull newer base images
}

// ImageInfo contains information about an image.
type ImageInfo struct {
	ID      ImageID
	Tags    []string
	Size    int64
	Labels  map[string]string
	Created time.Time
}

// ImageListOptions filters image listings.
type ImageListOptions struct {
	Labels map[string]string
}

// ImageRemoveOptions configures image removal.
type ImageRemoveOptions struct {
	Force         bool
	PruneChildren bool
}

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines how to create a container.
type ContainerSpec struct {
	Name       string
	Image      ImageLocator
	Command    []string
	Entrypoint []string
	Env        map[string]string
	Labels     map[string]string
	Ports      []PortBinding
	WorkingDir string
	User       string
}

// PortBinding is a container port and an optional host binding.
type PortBinding struct {
	ContainerPort int
	HostPort      int
	Protocol      string // tcp, udp
	HostIP        string
}

// ContainerStatus mirrors the Engine API container state.
type ContainerStatus string

const (
	StatusCreated    ContainerStatus = "created"
	StatusRunning    ContainerStatus = "running"
	StatusPaused     ContainerStatus = "paused"
	StatusRestarting ContainerStatus = "restarting"
	StatusRemoving   ContainerStatus = "removing"
	StatusExited     ContainerStatus = "exited"
	StatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains detailed information about a container.
type ContainerInfo struct {
	ID         ContainerID
	Name       string
	Image      string
	Status     ContainerStatus
	Tty        bool
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	ExitCode   int
	Labels     map[string]string
	Network    *NetworkSettings
}

// RemoveOptions configures container removal.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions configures container listing.
type ListOptions struct {
	All    bool
	Labels map[string]string
}

// =============================================================================
// Network Settings
// =============================================================================

// AddressFamily selects which address of a container to use.
type AddressFamily int

const (
	AddressPreferred AddressFamily = iota
	AddressIPv4
	AddressIPv6
)

// EndpointSettings is the container's attachment to one network.
type EndpointSettings struct {
	NetworkID  string
	Gateway    netip.Addr
	IPv4       netip.Addr
	IPv6       netip.Addr
	MacAddress string
}

// NetworkSettings is the network view of a started container.
type NetworkSettings struct {
	Networks map[string]EndpointSettings
	Ports    []PortBinding
	IPv4     netip.Addr
	IPv6     netip.Addr
}

// Address returns the container address of the requested family. The
// preferred address is IPv4 when one is assigned, otherwise IPv6.
func (n *NetworkSettings) Address(family AddressFamily) (netip.Addr, bool) {
	if n == nil {
		return netip.Addr{}, false
	}
	switch family {
	case AddressIPv4:
		return n.IPv4, n.IPv4.IsValid()
	case AddressIPv6:
		return n.IPv6, n.IPv6.IsValid()
	default:
		if n.IPv4.IsValid() {
			return n.IPv4, true
		}
		return n.IPv6, n.IPv6.IsValid()
	}
}

// HostPort returns the host port bound to a container port, if any.
func (n *NetworkSettings) HostPort(containerPort int, protocol string) (int, bool) {
	if n == nil {
		return 0, false
	}
	if protocol == "" {
		protocol = "tcp"
	}
	for _, p := range n.Ports {
		if p.ContainerPort == containerPort && p.Protocol == protocol && p.HostPort != 0 {
			return p.HostPort, true
		}
	}
	return 0, false
}

// =============================================================================
// Logs
// =============================================================================

// LogStream identifies the origin of a log frame.
type LogStream int

const (
	Stdout LogStream = iota + 1
	Stderr
)

func (s LogStream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// LogFrame is one demultiplexed chunk of container output.
type LogFrame struct {
	Stream  LogStream
	Payload []byte
}

// LogSpec configures a log subscription.
type LogSpec struct {
	Since      time.Time
	Stdout     bool
	Stderr     bool
	Timestamps bool
	// OnFrame receives each frame. Returning false closes the subscription.
	OnFrame func(LogFrame) bool
	// OnClose is called once when the subscription ends. err is nil when the
	// stream ended normally or was closed by the caller.
	OnClose func(err error)
}

// LogSubscription is a live log stream.
type LogSubscription interface {
	// Close stops delivery and waits for the streaming goroutine to exit.
	Close() error
	// Done is closed once the subscription has ended.
	Done() <-chan struct{}
}
