// Package compose reads Docker Compose files into container object
// descriptions. It performs no I/O.
package compose

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput         = errors.New("compose file is empty")
	ErrInvalidYAML        = errors.New("invalid compose file")
	ErrNoServices         = errors.New("compose file defines no services")
	ErrServiceNotFound    = errors.New("service not found")
	ErrUnknownDependency  = errors.New("service depends on an unknown service")
	ErrServiceNoImage     = errors.New("service has neither image nor build")
	ErrServiceInvalidPort = errors.New("invalid port")
	ErrCircularDependency = errors.New("circular dependency")
	ErrUnsupportedFeature = errors.New("unsupported compose feature")
)

// ParseError locates a compose error, e.g. at "services.web.ports[0]".
type ParseError struct {
	Field   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseError(field string, err error, format string, args ...any) *ParseError {
	return &ParseError{Field: field, Message: fmt.Sprintf(format, args...), Err: err}
}
