// Package resolve contains the pure parts of container-object configuration
// resolution: type-name based image tags, tag placeholder substitution,
// environment entry parsing and merging, and location scheme classification.
//
// The imperative side (loading content, talking to Docker) lives in the root
// package and internal/shell/docker; this package never performs I/O.
package resolve
