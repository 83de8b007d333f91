package wasm

import (
	"context"
	"sync"

	"go.uber.org/zap"

	wasmabi "github.com/woxQAQ/i18n-greeter/api/wasm"
	"github.com/woxQAQ/i18n-greeter/internal/capability"
)

// Runtime manages the Wasm engine lifecycle.
// One Runtime serves every plugin of a run.
type Runtime struct {
	// Sandbox engine (wazero or wasmtime)
	engine Engine

	// Capabilities linked into every instance
	registry *capability.Registry

	// Compiled module cache (key: module name/path -> value: compiled module)
	// This avoids recompiling the same Wasm binary multiple times
	modules sync.Map // map[string]*CompiledModule

	// Active module instances (for cleanup on shutdown)
	// key: instance ID -> value: *Instance
	instances sync.Map

	// Configuration
	config *RuntimeConfig

	// Logger
	logger *zap.Logger

	// Shutdown management
	closeOnce sync.Once
	closed    chan struct{}
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Engine selects the sandbox: "wazero" (default) or "wasmtime".
	Engine string

	// Memory limits for Wasm modules (in pages, 64KB each)
	// Default: 256 pages = 16MB max memory per module
	MemoryPages uint32

	// Enable debug logging for Wasm execution
	DebugEnabled bool

	// Compilation cache directory (for persistent caching, wazero only)
	// If empty, uses in-memory caching only
	CacheDir string

	// Maximum number of live instances
	MaxInstances int

	// Import module name under which capabilities are exported
	HostModule string
}

// CompiledModule wraps an engine's compiled module with metadata.
type CompiledModule struct {
	// Engine-specific compiled module
	Module Compiled

	// Module metadata
	Name      string
	Source    string // File path, or "memory"
	SizeBytes int64

	// Compilation timestamp
	CompiledAt int64
}

// NewRuntime creates the configured engine.
// This should be called once during application startup.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig, registry *capability.Registry) (*Runtime, error) {
	// Validate config
	if config == nil {
		config = DefaultRuntimeConfig()
	}
	if config.HostModule == "" {
		config.HostModule = wasmabi.HostModule
	}
	if config.Engine == "" {
		config.Engine = EngineWazero
	}
	if registry == nil {
		registry = capability.NewRegistry(logger)
	}

	componentLogger := logger.With(zap.String("component", "wasm-runtime"))

	var engine Engine
	switch config.Engine {
	case EngineWazero:
		e, err := newWazeroEngine(ctx, config, registry, componentLogger)
		if err != nil {
			return nil, err
		}
		engine = e
	case EngineWasmtime:
		engine = newWasmtimeEngine(config, registry, componentLogger)
	default:
		return nil, &UnsupportedEngineError{Engine: config.Engine}
	}

	runtime := &Runtime{
		engine:   engine,
		registry: registry,
		config:   config,
		logger:   componentLogger,
		closed:   make(chan struct{}),
	}

	logger.Info("Wasm runtime initialized",
		zap.String("engine", config.Engine),
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.Bool("debug_enabled", config.DebugEnabled),
		zap.String("cache_dir", config.CacheDir),
		zap.Int("max_instances", config.MaxInstances),
		zap.String("host_module", config.HostModule),
	)

	return runtime, nil
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Engine:       EngineWazero,
		MemoryPages:  256, // 16MB
		DebugEnabled: false,
		CacheDir:     "",
		MaxInstances: 100,
		HostModule:   wasmabi.HostModule,
	}
}

// Close gracefully shuts down the runtime.
// Safe to call multiple times (idempotent).
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Shutting down Wasm runtime")

		// Close all active instances first
		r.instances.Range(func(key, value interface{}) bool {
			if inst, ok := value.(interface{ Close(context.Context) error }); ok {
				if closeErr := inst.Close(ctx); closeErr != nil {
					r.logger.Warn("Failed to close instance",
						zap.String("instance_id", key.(string)),
						zap.Error(closeErr),
					)
				}
			}
			return true
		})

		// Close the engine (closes compiled modules)
		err = r.engine.Close(ctx)

		close(r.closed)
		r.logger.Info("Wasm runtime shutdown complete")
	})

	return err
}

// Engine returns the sandbox engine name.
func (r *Runtime) Engine() string {
	return r.engine.Name()
}

// DebugInfo reports whether the engine keeps DWARF info for trap traces.
func (r *Runtime) DebugInfo() bool {
	return r.engine.DebugInfo()
}

// HostModule returns the import module name capabilities are exported under.
func (r *Runtime) HostModule() string {
	return r.config.HostModule
}

// Registry returns the capabilities linked into instances.
func (r *Runtime) Registry() *capability.Registry {
	return r.registry
}

// GetCompiledModule retrieves a compiled module from cache.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	if val, ok := r.modules.Load(name); ok {
		if mod, ok := val.(*CompiledModule); ok {
			return mod, true
		}
	}
	return nil, false
}

// StoreCompiledModule stores a compiled module in cache.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// GetInstance retrieves an active instance.
func (r *Runtime) GetInstance(instanceID string) (interface{}, bool) {
	return r.instances.Load(instanceID)
}

// StoreInstance stores an active instance.
func (r *Runtime) StoreInstance(instanceID string, instance interface{}) {
	r.instances.Store(instanceID, instance)
}

// DeleteInstance removes an instance from tracking.
func (r *Runtime) DeleteInstance(instanceID string) {
	r.instances.Delete(instanceID)
}

// InstanceCount returns the number of tracked instances.
func (r *Runtime) InstanceCount() int {
	n := 0
	r.instances.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
