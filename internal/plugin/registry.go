package plugin

import (
	"cmp"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/i18n-greeter/internal/abi"
)

// Registry tracks the plugins a driver has loaded. Plugins are keyed by
// module path; only names declared in a manifest must be unique.
type Registry struct {
	sync.RWMutex
	plugins      map[string]*Plugin           // path -> plugin
	named        map[string]*Plugin           // manifest name -> plugin
	byConvention map[abi.Convention][]*Plugin // bound convention -> plugins
	logger       *zap.Logger
}

// NewRegistry creates a new plugin registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		plugins:      make(map[string]*Plugin),
		named:        make(map[string]*Plugin),
		byConvention: make(map[abi.Convention][]*Plugin),
		logger:       logger.With(zap.String("component", "plugin-registry")),
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(p *Plugin) error {
	r.Lock()
	defer r.Unlock()

	if existing, exists := r.plugins[p.Path]; exists {
		return &PluginAlreadyRegisteredError{PluginName: p.Name(), Path: existing.Path}
	}

	if p.Manifest != nil && p.Manifest.Name != "" {
		if existing, exists := r.named[p.Manifest.Name]; exists {
			return &PluginAlreadyRegisteredError{PluginName: p.Manifest.Name, Path: existing.Path}
		}
		r.named[p.Manifest.Name] = p
	}

	r.plugins[p.Path] = p

	r.logger.Debug("Plugin registered",
		zap.String("name", p.Name()),
		zap.String("path", p.Path),
	)

	return nil
}

// MarkBound indexes a registered plugin by the convention it was bound with.
func (r *Registry) MarkBound(path string, convention abi.Convention) {
	r.Lock()
	defer r.Unlock()

	p, ok := r.plugins[path]
	if !ok {
		return
	}
	r.byConvention[convention] = append(r.byConvention[convention], p)
}

// LookupByConvention returns the plugins bound with a convention.
func (r *Registry) LookupByConvention(convention abi.Convention) []*Plugin {
	r.RLock()
	defer r.RUnlock()

	// Return copy to avoid race conditions
	return slices.Clone(r.byConvention[convention])
}

// List returns all registered plugins sorted by path.
func (r *Registry) List() []*Plugin {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b *Plugin) int {
		return cmp.Compare(a.Path, b.Path)
	})
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.plugins)
}
