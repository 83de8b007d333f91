package wasm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, one is generated).
	InstanceID string
}

// Instance represents an instantiated Wasm module.
// It is not safe for concurrent use.
type Instance struct {
	// Engine module instance.
	module Module

	runtime *Runtime

	// Instance metadata.
	ID        string
	Name      string
	CreatedAt int64
}

// Instantiate creates a new instance from a compiled module.
// Registered capabilities are linked in; the capability registry is sealed
// by the first instantiation.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	// Get compiled module from cache.
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	if limit := m.runtime.config.MaxInstances; limit > 0 && m.runtime.InstanceCount() >= limit {
		return nil, &TooManyInstancesError{Limit: limit}
	}

	// Generate instance ID if not provided.
	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateInstanceID()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
		zap.Bool("debug_info", m.runtime.DebugInfo()),
	)

	registry := m.runtime.registry
	registry.Seal()

	// Every import must be served by a registered capability.
	if err := resolveImports(config.ModuleName, m.runtime.config.HostModule, compiled.Module, registry); err != nil {
		return nil, err
	}

	// This creates a sandboxed execution environment with its own memory.
	module, err := m.runtime.engine.Instantiate(ctx, compiled.Module, instanceID)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	instance := &Instance{
		module:    module,
		runtime:   m.runtime,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
	}

	// Track active instance.
	m.runtime.StoreInstance(instanceID, instance)

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("imports", len(compiled.Module.Imports())),
	)

	return instance, nil
}

// ExportedFunction returns the named exported function, or nil.
func (i *Instance) ExportedFunction(name string) Function {
	return i.module.ExportedFunction(name)
}

// ExportedMemory returns the named exported memory, or nil.
func (i *Instance) ExportedMemory(name string) Memory {
	return i.module.ExportedMemory(name)
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	i.runtime.DeleteInstance(i.ID)
	return i.module.Close(ctx)
}

var instanceSeq atomic.Uint64

// generateInstanceID generates a unique instance ID.
func generateInstanceID() string {
	return fmt.Sprintf("inst-%d-%d", time.Now().UnixNano(), instanceSeq.Add(1))
}
