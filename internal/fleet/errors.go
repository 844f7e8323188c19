package fleet

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports an invalid or missing field in a channel
// configuration. It is fatal for the channel it names and is never retried.
type ConfigurationError struct {
	Channel string
	Role    string
	Field   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	parts := make([]string, 0, 4)
	if e.Channel != "" {
		parts = append(parts, fmt.Sprintf("channel %q", e.Channel))
	}
	if e.Role != "" {
		parts = append(parts, fmt.Sprintf("role %s", e.Role))
	}
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field %s", e.Field))
	}
	prefix := "configuration error"
	if len(parts) > 0 {
		prefix = prefix + " (" + strings.Join(parts, ", ") + ")"
	}
	return prefix + ": " + e.Reason
}

// ReferenceKind names the kind of identity object a ReferenceNotFoundError
// failed to resolve.
type ReferenceKind string

const (
	ReferenceRole   ReferenceKind = "role"
	ReferenceSecret ReferenceKind = "secret"
)

// ReferenceNotFoundError reports that a named role or secret does not exist
// in the identity service.
type ReferenceNotFoundError struct {
	Channel string
	Role    string
	Kind    ReferenceKind
	Name    string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("channel %q role %s: %s %q not found", e.Channel, e.Role, e.Kind, e.Name)
}

// ErrNotFound is returned by identity resolvers when the requested name does
// not exist. Callers translate it into a ReferenceNotFoundError.
var ErrNotFound = errors.New("not found")

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsReferenceNotFound reports whether err wraps a ReferenceNotFoundError.
func IsReferenceNotFound(err error) bool {
	var target *ReferenceNotFoundError
	return errors.As(err, &target)
}

func invalid(channel, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Channel: channel, Field: field, Reason: fmt.Sprintf(format, args...)}
}
