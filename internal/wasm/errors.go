package wasm

import (
	"errors"
	"fmt"
)

// ErrNotWasm is returned for bytes that do not start with a Wasm binary header.
var ErrNotWasm = errors.New("not a Wasm binary (bad magic or version)")

// CompilationError occurs when Wasm module compilation fails
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile Wasm module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// InstantiationError occurs when module instantiation fails
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to instantiate module '%s' (instance: %s): %v",
		e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// ModuleNotFoundError occurs when a module is not in cache
type ModuleNotFoundError struct {
	ModuleName string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module '%s' not found in cache", e.ModuleName)
}

// UnsatisfiedImportError occurs when a module imports something the host does not provide
type UnsatisfiedImportError struct {
	ModuleName string
	Module     string
	Name       string
	Reason     string
}

func (e *UnsatisfiedImportError) Error() string {
	return fmt.Sprintf("module '%s' has unsatisfied import '%s.%s': %s",
		e.ModuleName, e.Module, e.Name, e.Reason)
}

// UnsupportedEngineError occurs when the configured engine is unknown
type UnsupportedEngineError struct {
	Engine string
}

func (e *UnsupportedEngineError) Error() string {
	return fmt.Sprintf("unsupported Wasm engine '%s' (must be one of: %s, %s)",
		e.Engine, EngineWazero, EngineWasmtime)
}

// TooManyInstancesError occurs when the live instance limit is reached
type TooManyInstancesError struct {
	Limit int
}

func (e *TooManyInstancesError) Error() string {
	return fmt.Sprintf("too many live instances (limit: %d)", e.Limit)
}
