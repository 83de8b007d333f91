package abi

import (
	"math"

	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

// Cursor is a bump allocator over a plugin's memory.
//
// Allocation never frees; Reset rewinds to offset 0 between calls. The memory
// is grown one page at a time until an allocation fits and is never shrunk.
// The invariant offset <= memory size holds after every call.
type Cursor struct {
	mem    wasm.Memory
	offset uint32
	grows  int
}

// NewCursor returns a cursor at offset 0.
func NewCursor(mem wasm.Memory) *Cursor {
	return &Cursor{mem: mem}
}

// Allocate reserves size bytes and returns their offset.
func (c *Cursor) Allocate(size uint32) (uint32, error) {
	start := c.offset
	end := uint64(start) + uint64(size)
	if end > math.MaxUint32 {
		return 0, &MemoryFault{
			Op:     "allocate",
			Offset: start,
			Length: size,
			Size:   c.mem.Size(),
			Err:    ErrAddressSpaceExhausted,
		}
	}

	for uint64(c.mem.Size()) < end {
		if _, ok := c.mem.Grow(1); !ok {
			return 0, &MemoryFault{
				Op:     "allocate",
				Offset: start,
				Length: size,
				Size:   c.mem.Size(),
				Err:    ErrGrowRefused,
			}
		}
		c.grows++
	}

	c.offset = uint32(end)
	return start, nil
}

// Reset rewinds the cursor to offset 0. Memory keeps its size.
func (c *Cursor) Reset() {
	c.offset = 0
}

// Offset returns the next free offset.
func (c *Cursor) Offset() uint32 {
	return c.offset
}

// Grows returns how many pages the cursor has added since it was created.
func (c *Cursor) Grows() int {
	return c.grows
}
