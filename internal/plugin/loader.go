package plugin

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

// Loader handles loading plugins from disk.
type Loader struct {
	runtime      *wasm.Runtime
	moduleLoader *wasm.ModuleLoader
	logger       *zap.Logger
}

// NewLoader creates a new plugin loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		runtime:      runtime,
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		logger:       logger.With(zap.String("component", "plugin-loader")),
	}
}

// Discover scans directories for plugin modules. Every regular file is a
// candidate except sidecar manifests; subdirectories are not descended into.
// A directory listed more than once is scanned once.
func (l *Loader) Discover(paths []string) ([]string, error) {
	var found []string
	seen := make(map[string]bool)

	for _, basePath := range paths {
		l.logger.Debug("Scanning plugin directory", zap.String("path", basePath))

		entries, err := os.ReadDir(basePath)
		if err != nil {
			return nil, &DiscoveryError{Path: basePath, Err: err}
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() && entry.Type()&os.ModeSymlink == 0 {
				continue
			}

			path := filepath.Join(basePath, entry.Name())
			if IsManifest(path) {
				continue
			}

			// Resolve symlinks to decide, skipping links to directories.
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}

			if seen[path] {
				continue
			}
			seen[path] = true
			found = append(found, path)
		}
	}

	if len(found) == 0 {
		l.logger.Warn("No plugins found in configured paths", zap.Strings("paths", paths))
	}

	return found, nil
}

// Load reads the sidecar manifest, if any, and compiles the module.
// Every failure is a LoadError.
func (l *Loader) Load(ctx context.Context, path string) (*Plugin, error) {
	l.logger.Debug("Loading plugin", zap.String("path", path))

	p := &Plugin{Path: path}

	if manifestPath := FindManifest(path); manifestPath != "" {
		manifest, err := ParseManifest(manifestPath)
		if err != nil {
			return nil, &LoadError{Plugin: path, Err: err}
		}
		p.Manifest = manifest
	}

	// Compile Wasm module (uses internal caching)
	compiled, err := l.moduleLoader.LoadModuleFromFile(ctx, path)
	if err != nil {
		return nil, &LoadError{Plugin: path, Err: err}
	}
	p.Compiled = compiled
	p.LoadedAt = time.Now()

	l.logger.Info("Plugin loaded successfully",
		zap.String("name", p.Name()),
		zap.String("version", p.Version()),
		zap.Int64("size_bytes", compiled.SizeBytes),
	)

	return p, nil
}
