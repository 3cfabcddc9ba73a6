// Package lifecycle defines the stages a container object passes through and
// the transitions allowed between them.
//
// A container object walks two phases. The creation phase brings the object
// from a plain value to a running container:
//
//	InstanceCreated -> ImagePrepared -> ContainerCreated -> ContainerStarted
//
// The destruction phase reverses it:
//
//	ContainerStopped -> ContainerRemoved -> ImageReleased -> InstanceDiscarded
//
// Stages are never skipped or revisited, except that a restart moves an
// object from ContainerStopped back to ContainerStarted.
//
// All functions in this package are pure.
package lifecycle
