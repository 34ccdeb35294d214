package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotRegistered is returned when no factory exists for a binary.
var ErrNotRegistered = errors.New("no module registered for binary")

// Factory builds a module from its fetched bytes.
type Factory func(data []byte) (Module, error)

// StaticModule is a Module with a fixed initializer list.
type StaticModule struct {
	ModuleName string
	Inits      []Initializer
}

// Name implements Module.
func (m *StaticModule) Name() string { return m.ModuleName }

// Initializers implements Module.
func (m *StaticModule) Initializers() []Initializer { return m.Inits }

// RegistryLoader is a ModuleLoader backed by factories compiled into the
// process. A binary can be loaded once.
type RegistryLoader struct {
	mu        sync.Mutex
	factories map[string]Factory
	loaded    map[string]bool
}

// NewRegistryLoader creates an empty RegistryLoader.
func NewRegistryLoader() *RegistryLoader {
	return &RegistryLoader{
		factories: make(map[string]Factory),
		loaded:    make(map[string]bool),
	}
}

// Register adds the factory for binary, replacing any previous one.
func (r *RegistryLoader) Register(binary string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[binary] = f
}

// Load implements ModuleLoader.
func (r *RegistryLoader) Load(ctx context.Context, binary string, data []byte) (Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded[binary] {
		return nil, fmt.Errorf("%s: %w", binary, ErrAlreadyLoaded)
	}
	f, ok := r.factories[binary]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, binary)
	}
	mod, err := f(data)
	if err != nil {
		return nil, err
	}
	r.loaded[binary] = true
	return mod, nil
}
