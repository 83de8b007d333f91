package wasm

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// Supported engines.
const (
	EngineWazero   = "wazero"
	EngineWasmtime = "wasmtime"
)

// Engine is the sandbox that compiles and runs plugin modules.
// Values cross it in the api.Encode* representation regardless of backend.
type Engine interface {
	// Name returns the engine identifier, e.g. "wazero".
	Name() string

	// DebugInfo reports whether traps carry DWARF stack traces.
	DebugInfo() bool

	// Compile decodes and validates a Wasm binary.
	Compile(ctx context.Context, wasm []byte) (Compiled, error)

	// Instantiate creates an isolated instance of a compiled module with
	// the registered capabilities linked in.
	Instantiate(ctx context.Context, compiled Compiled, name string) (Module, error)

	// Close releases the engine and everything it compiled.
	Close(ctx context.Context) error
}

// Compiled is a compiled but not yet instantiated module.
type Compiled interface {
	Imports() []Import
}

// ImportKind classifies a module import.
type ImportKind int

const (
	ImportOther ImportKind = iota
	ImportFunction
	ImportMemory
)

func (k ImportKind) String() string {
	switch k {
	case ImportFunction:
		return "function"
	case ImportMemory:
		return "memory"
	default:
		return "other"
	}
}

// Import describes one import of a compiled module.
type Import struct {
	Module  string
	Name    string
	Kind    ImportKind
	Params  []api.ValueType
	Results []api.ValueType
}

// Module is a live instance: its own linear memory and exported functions.
type Module interface {
	// ExportedFunction returns nil if no function is exported under name.
	ExportedFunction(name string) Function

	// ExportedMemory returns nil if no memory is exported under name.
	ExportedMemory(name string) Memory

	Close(ctx context.Context) error
}

// Function is an exported plugin function.
type Function interface {
	ParamTypes() []api.ValueType
	ResultTypes() []api.ValueType

	// Call invokes the function. A trap is returned as an error.
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Memory is a plugin's linear memory. Offsets are byte addresses.
type Memory interface {
	// Size returns the current size in bytes.
	Size() uint32

	// Grow adds deltaPages pages and returns the previous page count.
	// ok is false if the engine refused to grow.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)

	// Read copies length bytes starting at offset out of the memory.
	Read(offset, length uint32) ([]byte, bool)

	// Write copies data into the memory at offset.
	Write(offset uint32, data []byte) bool
}
