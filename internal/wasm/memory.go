package wasm

import (
	"math"
	"runtime"

	"github.com/bytecodealliance/wasmtime-go/v14"
	"github.com/tetratelabs/wazero/api"

	wasmabi "github.com/woxQAQ/i18n-greeter/api/wasm"
)

const pageSize = wasmabi.PageSize

// Plugin memory is isolated from Go memory. Both wrappers below copy bytes
// across the boundary and never hand out a view into the plugin's memory,
// because a later grow may move or invalidate it.

// wazeroMemory adapts api.Memory.
type wazeroMemory struct {
	mem api.Memory
}

func (m *wazeroMemory) Size() uint32 {
	return m.mem.Size()
}

func (m *wazeroMemory) Grow(deltaPages uint32) (uint32, bool) {
	return m.mem.Grow(deltaPages)
}

func (m *wazeroMemory) Read(offset, length uint32) ([]byte, bool) {
	view, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, false
	}
	buf := make([]byte, length)
	copy(buf, view)
	return buf, true
}

func (m *wazeroMemory) Write(offset uint32, data []byte) bool {
	return m.mem.Write(offset, data)
}

// wasmtimeMemory adapts wasmtime.Memory within its store.
type wasmtimeMemory struct {
	store *wasmtime.Store
	mem   *wasmtime.Memory
}

func (m *wasmtimeMemory) Size() uint32 {
	size := m.mem.DataSize(m.store)
	if uint64(size) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(size)
}

func (m *wasmtimeMemory) Grow(deltaPages uint32) (uint32, bool) {
	prev, err := m.mem.Grow(m.store, uint64(deltaPages))
	if err != nil {
		return 0, false
	}
	return uint32(prev), true
}

func (m *wasmtimeMemory) Read(offset, length uint32) ([]byte, bool) {
	mem := m.mem
	runtime.KeepAlive(mem)

	data := mem.UnsafeData(m.store)
	if uint64(offset)+uint64(length) > uint64(len(data)) {
		return nil, false
	}

	// copy data from memory to buf to ensure it is not GCed.
	buf := make([]byte, length)
	copy(buf, data[offset:offset+length])
	return buf, true
}

func (m *wasmtimeMemory) Write(offset uint32, data []byte) bool {
	mem := m.mem
	runtime.KeepAlive(mem)

	linear := mem.UnsafeData(m.store)
	if uint64(offset)+uint64(len(data)) > uint64(len(linear)) {
		return false
	}
	copy(linear[offset:], data)
	return true
}
