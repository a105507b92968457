package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a capability implementation from its configuration.
type Constructor[T any] func(cfg Config) (T, error)

// Registry maps discriminator tags to constructors for a single capability.
// Registries are owned by whoever assembles a conversation; there is no package
// level instance.
type Registry[T any] struct {
	capability string

	mu    sync.RWMutex
	ctors map[string]Constructor[T]
}

// NewRegistry creates an empty registry for the named capability.
func NewRegistry[T any](capability string) *Registry[T] {
	return &Registry[T]{
		capability: capability,
		ctors:      make(map[string]Constructor[T]),
	}
}

// Capability returns the capability name used in errors.
func (r *Registry[T]) Capability() string {
	return r.capability
}

// Register adds a constructor for tag. Registering a tag twice is a configuration error.
func (r *Registry[T]) Register(tag string, ctor Constructor[T]) error {
	if tag == "" || ctor == nil {
		return &ConfigError{Capability: r.capability, Type: tag, Err: fmt.Errorf("%w: empty tag or nil constructor", ErrInvalidConfig)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ctors[tag]; exists {
		return &ConfigError{Capability: r.capability, Type: tag, Err: ErrDuplicateProvider}
	}
	r.ctors[tag] = ctor
	return nil
}

// MustRegister is Register for wiring code that runs once at startup.
func (r *Registry[T]) MustRegister(tag string, ctor Constructor[T]) {
	if err := r.Register(tag, ctor); err != nil {
		panic(err)
	}
}

// Resolve builds the implementation selected by cfg.Type. An unregistered tag or a
// failing constructor yields a *ConfigError and the zero value of T.
func (r *Registry[T]) Resolve(cfg Config) (T, error) {
	var zero T

	r.mu.RLock()
	ctor, ok := r.ctors[cfg.Type]
	r.mu.RUnlock()

	if !ok {
		return zero, &ConfigError{Capability: r.capability, Type: cfg.Type, Err: ErrUnknownProvider}
	}

	impl, err := ctor(cfg)
	if err != nil {
		return zero, &ConfigError{Capability: r.capability, Type: cfg.Type, Err: err}
	}
	return impl, nil
}

// Has reports whether tag is registered.
func (r *Registry[T]) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[tag]
	return ok
}

// Tags returns the registered tags in sorted order.
func (r *Registry[T]) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.ctors))
	for tag := range r.ctors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
