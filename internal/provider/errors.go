package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider is returned when no constructor is registered for a tag.
	ErrUnknownProvider = errors.New("unknown provider type")

	// ErrDuplicateProvider is returned when a tag is registered twice in one registry.
	ErrDuplicateProvider = errors.New("duplicate provider type")

	// ErrInvalidConfig covers malformed provider configuration values.
	ErrInvalidConfig = errors.New("invalid provider config")
)

// ConfigError describes a configuration problem for one capability. It is fatal:
// callers surface it before any conversation traffic flows.
type ConfigError struct {
	Capability string
	Type       string
	Err        error
}

func (e *ConfigError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s config: %v", e.Capability, e.Err)
	}
	return fmt.Sprintf("%s config (type %q): %v", e.Capability, e.Type, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
