package wasm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// wasmHeader is the binary magic "\0asm" followed by format version 1.
var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// ModuleLoader compiles plugin modules and caches them on the runtime by name.
type ModuleLoader struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewModuleLoader creates a new module loader.
func NewModuleLoader(runtime *Runtime, logger *zap.Logger) *ModuleLoader {
	return &ModuleLoader{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-loader")),
	}
}

// LoadModuleFromFile compiles the module at path, keyed by the path.
// The file is not read again once the module is cached.
func (l *ModuleLoader) LoadModuleFromFile(ctx context.Context, path string) (*CompiledModule, error) {
	if cached, ok := l.cached(path); ok {
		return cached, nil
	}

	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", path, err)
	}
	return l.compile(ctx, path, path, wasmBytes)
}

// LoadModuleFromMemory compiles data under name.
func (l *ModuleLoader) LoadModuleFromMemory(ctx context.Context, name string, data []byte) (*CompiledModule, error) {
	if cached, ok := l.cached(name); ok {
		return cached, nil
	}
	return l.compile(ctx, name, "memory", data)
}

func (l *ModuleLoader) cached(name string) (*CompiledModule, bool) {
	cached, ok := l.runtime.GetCompiledModule(name)
	if ok {
		l.logger.Debug("Module cache hit", zap.String("module", name))
	}
	return cached, ok
}

// compile rejects anything without a Wasm binary header before handing the
// bytes to the engine, so both engines fail the same way on non-Wasm files.
func (l *ModuleLoader) compile(ctx context.Context, name, source string, wasmBytes []byte) (*CompiledModule, error) {
	if !bytes.HasPrefix(wasmBytes, wasmHeader) {
		return nil, &CompilationError{ModuleName: name, Err: ErrNotWasm}
	}

	engine := l.runtime.engine.Name()
	l.logger.Info("Compiling Wasm module",
		zap.String("module", name),
		zap.String("engine", engine),
		zap.Int("size_bytes", len(wasmBytes)),
	)

	startTime := time.Now()
	compiled, err := l.runtime.engine.Compile(ctx, wasmBytes)
	if err != nil {
		return nil, &CompilationError{ModuleName: name, Err: err}
	}
	duration := time.Since(startTime)

	module := &CompiledModule{
		Module:     compiled,
		Name:       name,
		Source:     source,
		SizeBytes:  int64(len(wasmBytes)),
		CompiledAt: time.Now().Unix(),
	}
	l.runtime.StoreCompiledModule(module)

	l.logger.Info("Module compiled successfully",
		zap.String("module", name),
		zap.String("engine", engine),
		zap.Duration("duration", duration),
		zap.Int("imports", len(compiled.Imports())),
	)

	return module, nil
}
