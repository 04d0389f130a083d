package backend

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for Default (first available wins).
	priority = []string{BackendHAL, BackendTrace}
)

// Register registers a backend factory with the given name. It is called
// from init() in backend packages, following the database/sql driver
// pattern:
//
//	func init() {
//	    backend.Register(backend.BackendTrace, func() (backend.Instance, error) {
//	        return New(), nil
//	    })
//	}
//
// Register panics if factory is nil or the name is already taken.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("backend: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("backend: Register called twice for " + name)
	}
	factories[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the sorted names of the registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// New creates a backend by name.
func New(name string) (Instance, error) {
	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q (forgotten import?)", ErrBackendNotAvailable, name)
	}
	b, err := factory()
	if err != nil {
		return nil, fmt.Errorf("backend: create %q: %w", name, err)
	}
	return b, nil
}

// Default creates the first available backend in priority order.
func Default() (Instance, string, error) {
	var firstErr error
	for _, name := range priority {
		if !IsRegistered(name) {
			continue
		}
		b, err := New(name)
		if err == nil {
			return b, name, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, "", firstErr
	}
	return nil, "", ErrBackendNotAvailable
}
