package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"strings"
)

// InitializersSymbol is the function a plugin exports to list its initializers.
// Its type must be func() []loader.Initializer.
const InitializersSymbol = "HotfixInitializers"

// PluginLoader loads binaries built with -buildmode=plugin. Each blob is
// written under dir before it is opened.
type PluginLoader struct {
	dir    string
	logger *slog.Logger
}

// NewPluginLoader creates a PluginLoader staging blobs in dir. An empty dir
// uses a fresh temporary directory.
func NewPluginLoader(dir string, logger *slog.Logger) (*PluginLoader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		tmp, err := os.MkdirTemp("", "hotfix-plugins-")
		if err != nil {
			return nil, fmt.Errorf("creating plugin directory: %w", err)
		}
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating plugin directory: %w", err)
	}
	return &PluginLoader{dir: dir, logger: logger}, nil
}

// Load implements ModuleLoader.
func (p *PluginLoader) Load(ctx context.Context, binary string, data []byte) (Module, error) {
	path := filepath.Join(p.dir, filepath.Base(binary))
	if err := os.WriteFile(path, data, 0o755); err != nil {
		return nil, fmt.Errorf("staging plugin: %w", err)
	}

	plug, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plugin %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(binary), filepath.Ext(binary))
	mod := &StaticModule{ModuleName: name}

	sym, err := plug.Lookup(InitializersSymbol)
	if err != nil {
		p.logger.Debug("plugin exports no initializers", "binary", binary)
		return mod, nil
	}
	switch list := sym.(type) {
	case func() []Initializer:
		mod.Inits = list()
	case *func() []Initializer:
		mod.Inits = (*list)()
	default:
		return nil, fmt.Errorf("plugin %s: %s has type %T", binary, InitializersSymbol, sym)
	}
	return mod, nil
}
