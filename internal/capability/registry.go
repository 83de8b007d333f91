package capability

import (
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry holds the capabilities offered to plugins.
// It is sealed once the first plugin is instantiated; the set of host
// functions is fixed from then on.
type Registry struct {
	sync.RWMutex
	caps   map[string]*Capability
	sealed bool
	logger *zap.Logger
}

// NewRegistry creates an empty capability registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		caps:   make(map[string]*Capability),
		logger: logger.With(zap.String("component", "capability-registry")),
	}
}

// Register adds a capability to the registry.
func (r *Registry) Register(c Capability) error {
	if c.Name == "" {
		return &InvalidCapabilityError{Message: "name is required"}
	}
	if c.Func == nil {
		return &InvalidCapabilityError{Name: c.Name, Message: "function is required"}
	}

	r.Lock()
	defer r.Unlock()

	if r.sealed {
		return &RegistrySealedError{Name: c.Name}
	}

	// Check for duplicates
	if _, exists := r.caps[c.Name]; exists {
		return &CapabilityAlreadyRegisteredError{Name: c.Name}
	}

	r.caps[c.Name] = &c

	r.logger.Info("Capability registered",
		zap.String("name", c.Name),
		zap.String("signature", c.Signature()),
	)

	return nil
}

// Get retrieves a capability by name.
func (r *Registry) Get(name string) (*Capability, bool) {
	r.RLock()
	defer r.RUnlock()

	c, ok := r.caps[name]
	return c, ok
}

// List returns all registered capabilities sorted by name.
func (r *Registry) List() []*Capability {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Capability, 0, len(r.caps))
	for _, c := range r.caps {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b *Capability) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.caps)
}

// Seal freezes the registry. Later calls to Register fail.
func (r *Registry) Seal() {
	r.Lock()
	defer r.Unlock()

	if !r.sealed {
		r.sealed = true
		r.logger.Debug("Capability registry sealed", zap.Int("count", len(r.caps)))
	}
}

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool {
	r.RLock()
	defer r.RUnlock()

	return r.sealed
}
