package abi

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/tetratelabs/wazero/api"

	wasmabi "github.com/woxQAQ/i18n-greeter/api/wasm"
	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

// fakeMemory is a linear memory backed by a byte slice.
type fakeMemory struct {
	data     []byte
	maxPages uint32
	growths  []uint32
}

func newFakeMemory(pages, maxPages uint32) *fakeMemory {
	return &fakeMemory{data: make([]byte, pages*wasmabi.PageSize), maxPages: maxPages}
}

func (m *fakeMemory) Size() uint32 {
	return uint32(len(m.data))
}

func (m *fakeMemory) pages() uint32 {
	return m.Size() / wasmabi.PageSize
}

func (m *fakeMemory) Grow(delta uint32) (uint32, bool) {
	prev := m.pages()
	if prev+delta > m.maxPages {
		return 0, false
	}
	m.data = append(m.data, make([]byte, delta*wasmabi.PageSize)...)
	m.growths = append(m.growths, delta)
	return prev, true
}

func (m *fakeMemory) Read(offset, length uint32) ([]byte, bool) {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return nil, false
	}
	buf := make([]byte, length)
	copy(buf, m.data[offset:])
	return buf, true
}

func (m *fakeMemory) Write(offset uint32, data []byte) bool {
	if uint64(offset)+uint64(len(data)) > uint64(len(m.data)) {
		return false
	}
	copy(m.data[offset:], data)
	return true
}

// ensure grows the memory the way a plugin would before writing past its end.
func (m *fakeMemory) ensure(end uint32) {
	for m.Size() < end {
		m.Grow(1)
	}
}

type fakeFunction struct {
	params  []api.ValueType
	results []api.ValueType
	call    func(ctx context.Context, params ...uint64) ([]uint64, error)
	calls   [][]uint64
}

func (f *fakeFunction) ParamTypes() []api.ValueType  { return f.params }
func (f *fakeFunction) ResultTypes() []api.ValueType { return f.results }

func (f *fakeFunction) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	f.calls = append(f.calls, params)
	if f.call == nil {
		return nil, nil
	}
	return f.call(ctx, params...)
}

type fakeExports struct {
	funcs map[string]*fakeFunction
	mem   wasm.Memory
}

func (e *fakeExports) ExportedFunction(name string) wasm.Function {
	fn, ok := e.funcs[name]
	if !ok {
		return nil
	}
	return fn
}

func (e *fakeExports) ExportedMemory(name string) wasm.Memory {
	if name != wasmabi.MemoryExport {
		return nil
	}
	return e.mem
}

func putBounds(mem *fakeMemory, at, offset, length uint32) {
	binary.LittleEndian.PutUint32(mem.data[at:], offset)
	binary.LittleEndian.PutUint32(mem.data[at+4:], length)
}

var errTrap = errors.New("wasm error: unreachable")

// rawPlugin implements the raw convention in Go over a fakeMemory.
// language writes 16 bytes past out; greet writes right after the name.
func rawPlugin(mem *fakeMemory, language, prefix string) *fakeExports {
	return &fakeExports{
		mem: mem,
		funcs: map[string]*fakeFunction{
			"language": {
				params: []api.ValueType{i32},
				call: func(_ context.Context, p ...uint64) ([]uint64, error) {
					out := uint32(p[0])
					dst := out + 16
					mem.ensure(dst + uint32(len(language)))
					copy(mem.data[dst:], language)
					putBounds(mem, out, dst, uint32(len(language)))
					return nil, nil
				},
			},
			"greet": {
				params: []api.ValueType{i32, i32, i32},
				call: func(_ context.Context, p ...uint64) ([]uint64, error) {
					out, ptr, n := uint32(p[0]), uint32(p[1]), uint32(p[2])
					greeting := prefix + string(mem.data[ptr:ptr+n]) + "!"
					dst := ptr + n
					mem.ensure(dst + uint32(len(greeting)))
					copy(mem.data[dst:], greeting)
					putBounds(mem, out, dst, uint32(len(greeting)))
					return nil, nil
				},
			},
		},
	}
}

// canonicalPlugin implements the canonical convention in Go over a fakeMemory.
func canonicalPlugin(mem *fakeMemory, language, prefix string) *fakeExports {
	heap := uint32(1024)
	alloc := func(size uint32) uint32 {
		p := heap
		heap += size
		mem.ensure(heap)
		return p
	}
	ret := func(s string) []uint64 {
		rec := alloc(8)
		dst := alloc(uint32(len(s)))
		copy(mem.data[dst:], s)
		putBounds(mem, rec, dst, uint32(len(s)))
		return []uint64{uint64(rec)}
	}
	reset := func(context.Context, ...uint64) ([]uint64, error) {
		heap = 1024
		return nil, nil
	}

	return &fakeExports{
		mem: mem,
		funcs: map[string]*fakeFunction{
			"cabi_realloc": {
				params:  []api.ValueType{i32, i32, i32, i32},
				results: []api.ValueType{i32},
				call: func(_ context.Context, p ...uint64) ([]uint64, error) {
					return []uint64{uint64(alloc(uint32(p[3])))}, nil
				},
			},
			"language": {
				results: []api.ValueType{i32},
				call: func(context.Context, ...uint64) ([]uint64, error) {
					return ret(language), nil
				},
			},
			"greet": {
				params:  []api.ValueType{i32, i32},
				results: []api.ValueType{i32},
				call: func(_ context.Context, p ...uint64) ([]uint64, error) {
					ptr, n := uint32(p[0]), uint32(p[1])
					return ret(prefix + string(mem.data[ptr:ptr+n]) + "!"), nil
				},
			},
			"cabi_post_language": {params: []api.ValueType{i32}, call: reset},
			"cabi_post_greet":    {params: []api.ValueType{i32}, call: reset},
		},
	}
}
