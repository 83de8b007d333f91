package wasm

import (
	"context"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v14"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/i18n-greeter/internal/capability"
)

// wasmtimeEngine runs plugins on wasmtime. Every instance gets its own store
// and linker, so memory limits and capability contexts are per instance.
type wasmtimeEngine struct {
	engine      *wasmtime.Engine
	registry    *capability.Registry
	hostModule  string
	memoryLimit int64
	debugInfo   bool
	logger      *zap.Logger
}

func newWasmtimeEngine(config *RuntimeConfig, registry *capability.Registry, logger *zap.Logger) *wasmtimeEngine {
	cfg := wasmtime.NewConfig()
	cfg.SetWasmBulkMemory(true)
	cfg.SetWasmMultiValue(true)
	cfg.SetDebugInfo(config.DebugEnabled)

	memoryLimit := int64(-1)
	if config.MemoryPages > 0 {
		memoryLimit = int64(config.MemoryPages) * pageSize
	}

	return &wasmtimeEngine{
		engine:      wasmtime.NewEngineWithConfig(cfg),
		registry:    registry,
		hostModule:  config.HostModule,
		memoryLimit: memoryLimit,
		debugInfo:   config.DebugEnabled,
		logger:      logger,
	}
}

func (e *wasmtimeEngine) Name() string {
	return EngineWasmtime
}

func (e *wasmtimeEngine) DebugInfo() bool {
	return e.debugInfo
}

func (e *wasmtimeEngine) Compile(_ context.Context, wasm []byte) (Compiled, error) {
	module, err := wasmtime.NewModule(e.engine, wasm)
	if err != nil {
		return nil, err
	}
	return &wasmtimeCompiled{module: module}, nil
}

func (e *wasmtimeEngine) Instantiate(ctx context.Context, compiled Compiled, _ string) (Module, error) {
	cm, ok := compiled.(*wasmtimeCompiled)
	if !ok {
		return nil, fmt.Errorf("module was not compiled by %s", EngineWasmtime)
	}

	store := wasmtime.NewStore(e.engine)
	store.Limiter(e.memoryLimit, -1, -1, -1, -1)

	module := &wasmtimeModule{store: store, ctx: ctx}

	linker := wasmtime.NewLinker(e.engine)
	for _, c := range e.registry.List() {
		ty := wasmtime.NewFuncType(wasmtimeTypes(c.Params), wasmtimeTypes(c.Results))
		if err := linker.FuncNew(e.hostModule, c.Name, ty, module.hostFunction(c)); err != nil {
			return nil, fmt.Errorf("failed to link capability '%s': %w", c.Name, err)
		}
	}

	instance, err := linker.Instantiate(store, cm.module)
	if err != nil {
		return nil, err
	}
	module.instance = instance

	return module, nil
}

func (e *wasmtimeEngine) Close(context.Context) error {
	return nil
}

type wasmtimeCompiled struct {
	module *wasmtime.Module
}

func (c *wasmtimeCompiled) Imports() []Import {
	var imports []Import
	for _, imp := range c.module.Imports() {
		im := Import{Module: imp.Module(), Kind: ImportOther}
		if name := imp.Name(); name != nil {
			im.Name = *name
		}

		ty := imp.Type()
		if ft := ty.FuncType(); ft != nil {
			im.Kind = ImportFunction
			im.Params = valueTypes(ft.Params())
			im.Results = valueTypes(ft.Results())
		} else if ty.MemoryType() != nil {
			im.Kind = ImportMemory
		}

		imports = append(imports, im)
	}
	return imports
}

type wasmtimeModule struct {
	store    *wasmtime.Store
	instance *wasmtime.Instance

	// ctx is the context of the plugin call in progress. Capabilities
	// called back from the plugin receive it.
	ctx context.Context
}

func (m *wasmtimeModule) hostFunction(c *capability.Capability) func(*wasmtime.Caller, []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	return func(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
		params := make([]uint64, len(args))
		for i, arg := range args {
			params[i] = fromVal(arg)
		}

		results := c.Func(m.ctx, params)
		if len(results) != len(c.Results) {
			return nil, wasmtime.NewTrap(fmt.Sprintf("capability '%s' returned %d values, want %d",
				c.Name, len(results), len(c.Results)))
		}

		vals := make([]wasmtime.Val, len(results))
		for i, r := range results {
			vals[i] = toVal(c.Results[i], r)
		}
		return vals, nil
	}
}

func (m *wasmtimeModule) ExportedFunction(name string) Function {
	ext := m.instance.GetExport(m.store, name)
	if ext == nil {
		return nil
	}
	fn := ext.Func()
	if fn == nil {
		return nil
	}

	ty := fn.Type(m.store)
	return &wasmtimeFunction{
		module:  m,
		fn:      fn,
		params:  valueTypes(ty.Params()),
		results: valueTypes(ty.Results()),
	}
}

func (m *wasmtimeModule) ExportedMemory(name string) Memory {
	ext := m.instance.GetExport(m.store, name)
	if ext == nil {
		return nil
	}
	mem := ext.Memory()
	if mem == nil {
		return nil
	}
	return &wasmtimeMemory{store: m.store, mem: mem}
}

// Close drops the instance. The store is reclaimed with it.
func (m *wasmtimeModule) Close(context.Context) error {
	m.instance = nil
	return nil
}

type wasmtimeFunction struct {
	module  *wasmtimeModule
	fn      *wasmtime.Func
	params  []api.ValueType
	results []api.ValueType
}

func (f *wasmtimeFunction) ParamTypes() []api.ValueType {
	return f.params
}

func (f *wasmtimeFunction) ResultTypes() []api.ValueType {
	return f.results
}

func (f *wasmtimeFunction) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if len(params) != len(f.params) {
		return nil, fmt.Errorf("expected %d params, but passed %d", len(f.params), len(params))
	}

	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = toCallArg(f.params[i], p)
	}

	prev := f.module.ctx
	f.module.ctx = ctx
	defer func() { f.module.ctx = prev }()

	result, err := f.fn.Call(f.module.store, args...)
	if err != nil {
		return nil, err
	}

	switch v := result.(type) {
	case nil:
		return nil, nil
	case int32:
		return []uint64{api.EncodeI32(v)}, nil
	case int64:
		return []uint64{api.EncodeI64(v)}, nil
	case float32:
		return []uint64{api.EncodeF32(v)}, nil
	case float64:
		return []uint64{api.EncodeF64(v)}, nil
	case []wasmtime.Val:
		out := make([]uint64, len(v))
		for i, val := range v {
			out[i] = fromVal(val)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported result type %T", result)
	}
}

func valueTypes(types []*wasmtime.ValType) []api.ValueType {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		switch t.Kind() {
		case wasmtime.KindI32:
			out[i] = api.ValueTypeI32
		case wasmtime.KindI64:
			out[i] = api.ValueTypeI64
		case wasmtime.KindF32:
			out[i] = api.ValueTypeF32
		case wasmtime.KindF64:
			out[i] = api.ValueTypeF64
		case wasmtime.KindExternref:
			out[i] = api.ValueTypeExternref
		}
	}
	return out
}

func wasmtimeTypes(types []api.ValueType) []*wasmtime.ValType {
	out := make([]*wasmtime.ValType, len(types))
	for i, t := range types {
		switch t {
		case api.ValueTypeI64:
			out[i] = wasmtime.NewValType(wasmtime.KindI64)
		case api.ValueTypeF32:
			out[i] = wasmtime.NewValType(wasmtime.KindF32)
		case api.ValueTypeF64:
			out[i] = wasmtime.NewValType(wasmtime.KindF64)
		case api.ValueTypeExternref:
			out[i] = wasmtime.NewValType(wasmtime.KindExternref)
		default:
			out[i] = wasmtime.NewValType(wasmtime.KindI32)
		}
	}
	return out
}

func fromVal(v wasmtime.Val) uint64 {
	switch v.Kind() {
	case wasmtime.KindI64:
		return api.EncodeI64(v.I64())
	case wasmtime.KindF32:
		return api.EncodeF32(v.F32())
	case wasmtime.KindF64:
		return api.EncodeF64(v.F64())
	default:
		return api.EncodeI32(v.I32())
	}
}

func toVal(t api.ValueType, raw uint64) wasmtime.Val {
	switch t {
	case api.ValueTypeI64:
		return wasmtime.ValI64(int64(raw))
	case api.ValueTypeF32:
		return wasmtime.ValF32(api.DecodeF32(raw))
	case api.ValueTypeF64:
		return wasmtime.ValF64(api.DecodeF64(raw))
	default:
		return wasmtime.ValI32(api.DecodeI32(raw))
	}
}

func toCallArg(t api.ValueType, raw uint64) interface{} {
	switch t {
	case api.ValueTypeI64:
		return int64(raw)
	case api.ValueTypeF32:
		return api.DecodeF32(raw)
	case api.ValueTypeF64:
		return api.DecodeF64(raw)
	default:
		return api.DecodeI32(raw)
	}
}
