package containerobjects

import "github.com/artpar/containerobjects/internal/shell/docker"

// Gateway types used in the public API.
type (
	Docker           = docker.Docker
	ImageLocator     = docker.ImageLocator
	ImageID          = docker.ImageID
	ImageName        = docker.ImageName
	ContainerLocator = docker.ContainerLocator
	ContainerID      = docker.ContainerID
	NetworkSettings  = docker.NetworkSettings
	AddressFamily    = docker.AddressFamily
	LogStream        = docker.LogStream
)

const (
	AddressPreferred = docker.AddressPreferred
	AddressIPv4      = docker.AddressIPv4
	AddressIPv6      = docker.AddressIPv6
)

// containerStatus maps the daemon state onto ContainerStatus.
func containerStatus(s docker.ContainerStatus) ContainerStatus {
	switch s {
	case docker.StatusRunning:
		return StatusStarted
	case docker.StatusCreated:
		return StatusCreated
	case docker.StatusExited:
		return StatusStopped
	default:
		return StatusUnknown
	}
}
