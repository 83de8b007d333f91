package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/i18n-greeter/internal/capability"
)

// wazeroEngine runs plugins on wazero.
type wazeroEngine struct {
	runtime    wazero.Runtime
	cache      wazero.CompilationCache
	registry   *capability.Registry
	hostModule string
	debugInfo  bool
	logger     *zap.Logger

	// The host module is instantiated once, on first use, from the sealed registry.
	hostOnce sync.Once
	hostErr  error
}

func newWazeroEngine(ctx context.Context, config *RuntimeConfig, registry *capability.Registry, logger *zap.Logger) (*wazeroEngine, error) {
	// DWARF stack traces in traps, off unless debugging.
	rc := wazero.NewRuntimeConfig().WithDebugInfoEnabled(config.DebugEnabled)
	if config.MemoryPages > 0 {
		rc = rc.WithMemoryLimitPages(config.MemoryPages)
	}

	var cache wazero.CompilationCache
	if config.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache '%s': %w", config.CacheDir, err)
		}
		rc = rc.WithCompilationCache(cache)
	}

	return &wazeroEngine{
		runtime:    wazero.NewRuntimeWithConfig(ctx, rc),
		cache:      cache,
		registry:   registry,
		hostModule: config.HostModule,
		debugInfo:  config.DebugEnabled,
		logger:     logger,
	}, nil
}

func (e *wazeroEngine) Name() string {
	return EngineWazero
}

func (e *wazeroEngine) DebugInfo() bool {
	return e.debugInfo
}

func (e *wazeroEngine) Compile(ctx context.Context, wasm []byte) (Compiled, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, err
	}
	return &wazeroCompiled{module: compiled}, nil
}

func (e *wazeroEngine) Instantiate(ctx context.Context, compiled Compiled, name string) (Module, error) {
	c, ok := compiled.(*wazeroCompiled)
	if !ok {
		return nil, fmt.Errorf("module was not compiled by %s", EngineWazero)
	}

	if err := e.instantiateHostModule(ctx); err != nil {
		return nil, err
	}

	// No start functions: plugins are libraries, not commands.
	moduleConfig := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions()

	module, err := e.runtime.InstantiateModule(ctx, c.module, moduleConfig)
	if err != nil {
		return nil, err
	}
	return &wazeroModule{module: module}, nil
}

func (e *wazeroEngine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cacheErr := e.cache.Close(ctx); cacheErr != nil && err == nil {
			err = cacheErr
		}
	}
	return err
}

// instantiateHostModule exports every registered capability under the host module name.
func (e *wazeroEngine) instantiateHostModule(ctx context.Context) error {
	e.hostOnce.Do(func() {
		caps := e.registry.List()
		if len(caps) == 0 {
			return
		}

		builder := e.runtime.NewHostModuleBuilder(e.hostModule)
		for _, c := range caps {
			builder.NewFunctionBuilder().
				WithGoModuleFunction(wazeroHostFunction(c), c.Params, c.Results).
				Export(c.Name)
		}

		if _, err := builder.Instantiate(ctx); err != nil {
			e.hostErr = fmt.Errorf("failed to instantiate host module '%s': %w", e.hostModule, err)
			return
		}

		e.logger.Debug("Host module instantiated",
			zap.String("module", e.hostModule),
			zap.Int("capabilities", len(caps)),
		)
	})
	return e.hostErr
}

// wazeroHostFunction adapts a capability to the wazero stack calling convention.
// The calling module is dropped so the capability never sees plugin memory.
func wazeroHostFunction(c *capability.Capability) api.GoModuleFunc {
	n := len(c.Params)
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		params := make([]uint64, n)
		copy(params, stack[:n])
		copy(stack, c.Func(ctx, params))
	}
}

type wazeroCompiled struct {
	module wazero.CompiledModule
}

func (c *wazeroCompiled) Imports() []Import {
	var imports []Import
	for _, def := range c.module.ImportedFunctions() {
		module, name, _ := def.Import()
		imports = append(imports, Import{
			Module:  module,
			Name:    name,
			Kind:    ImportFunction,
			Params:  def.ParamTypes(),
			Results: def.ResultTypes(),
		})
	}
	for _, def := range c.module.ImportedMemories() {
		module, name, _ := def.Import()
		imports = append(imports, Import{
			Module: module,
			Name:   name,
			Kind:   ImportMemory,
		})
	}
	return imports
}

type wazeroModule struct {
	module api.Module
}

func (m *wazeroModule) ExportedFunction(name string) Function {
	fn := m.module.ExportedFunction(name)
	if fn == nil {
		return nil
	}
	return &wazeroFunction{fn: fn}
}

func (m *wazeroModule) ExportedMemory(name string) Memory {
	mem := m.module.ExportedMemory(name)
	if mem == nil {
		return nil
	}
	return &wazeroMemory{mem: mem}
}

func (m *wazeroModule) Close(ctx context.Context) error {
	return m.module.Close(ctx)
}

type wazeroFunction struct {
	fn api.Function
}

func (f *wazeroFunction) ParamTypes() []api.ValueType {
	return f.fn.Definition().ParamTypes()
}

func (f *wazeroFunction) ResultTypes() []api.ValueType {
	return f.fn.Definition().ResultTypes()
}

func (f *wazeroFunction) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return f.fn.Call(ctx, params...)
}
