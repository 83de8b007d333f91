package abi

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	wasmabi "github.com/woxQAQ/i18n-greeter/api/wasm"
	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

// StringRef locates a string in plugin memory. It is only a descriptor:
// it is checked against the memory size every time it is read.
type StringRef struct {
	Offset uint32
	Length uint32
}

// WriteString allocates len(s) bytes with the cursor and copies s into them.
func WriteString(c *Cursor, mem wasm.Memory, s string) (StringRef, error) {
	if uint64(len(s)) > math.MaxUint32 {
		return StringRef{}, &MemoryFault{
			Op:     "write string",
			Offset: c.Offset(),
			Length: math.MaxUint32,
			Size:   mem.Size(),
			Err:    ErrAddressSpaceExhausted,
		}
	}

	n := uint32(len(s))
	offset, err := c.Allocate(n)
	if err != nil {
		return StringRef{}, err
	}

	if n > 0 && !mem.Write(offset, []byte(s)) {
		return StringRef{}, &MemoryFault{
			Op:     "write string",
			Offset: offset,
			Length: n,
			Size:   mem.Size(),
			Err:    ErrOutOfBounds,
		}
	}

	return StringRef{Offset: offset, Length: n}, nil
}

// ReadString copies the referenced bytes out of plugin memory and checks
// that they are UTF-8.
func ReadString(mem wasm.Memory, ref StringRef) (string, error) {
	size := mem.Size()
	if uint64(ref.Offset)+uint64(ref.Length) > uint64(size) {
		return "", &MemoryFault{
			Op:     "read string",
			Offset: ref.Offset,
			Length: ref.Length,
			Size:   size,
			Err:    ErrOutOfBounds,
		}
	}
	if ref.Length == 0 {
		return "", nil
	}

	data, ok := mem.Read(ref.Offset, ref.Length)
	if !ok {
		return "", &MemoryFault{
			Op:     "read string",
			Offset: ref.Offset,
			Length: ref.Length,
			Size:   size,
			Err:    ErrOutOfBounds,
		}
	}

	if !utf8.Valid(data) {
		return "", &DecodeError{Offset: ref.Offset, Length: ref.Length}
	}
	return string(data), nil
}

// ReadBounds reads the 8-byte (offset, length) record at offset.
func ReadBounds(mem wasm.Memory, offset uint32) (StringRef, error) {
	data, ok := mem.Read(offset, wasmabi.BoundsRecordSize)
	if !ok {
		return StringRef{}, &MemoryFault{
			Op:     "read bounds",
			Offset: offset,
			Length: wasmabi.BoundsRecordSize,
			Size:   mem.Size(),
			Err:    ErrOutOfBounds,
		}
	}
	return DecodeBounds(data)
}

// WriteBounds writes ref as an 8-byte record at offset.
func WriteBounds(mem wasm.Memory, offset uint32, ref StringRef) error {
	if !mem.Write(offset, EncodeBounds(ref)) {
		return &MemoryFault{
			Op:     "write bounds",
			Offset: offset,
			Length: wasmabi.BoundsRecordSize,
			Size:   mem.Size(),
			Err:    ErrOutOfBounds,
		}
	}
	return nil
}

// EncodeBounds lays out ref as two little-endian i32 values.
func EncodeBounds(ref StringRef) []byte {
	b := make([]byte, 0, wasmabi.BoundsRecordSize)
	b = binary.LittleEndian.AppendUint32(b, ref.Offset)
	return binary.LittleEndian.AppendUint32(b, ref.Length)
}

// DecodeBounds parses a bounds record. Both fields are signed i32 on the
// wire; a negative value is a fault, not a large offset.
func DecodeBounds(b []byte) (StringRef, error) {
	offset := int32(binary.LittleEndian.Uint32(b[0:4]))
	length := int32(binary.LittleEndian.Uint32(b[4:8]))
	if offset < 0 || length < 0 {
		return StringRef{}, &MemoryFault{
			Op:     "decode bounds",
			Offset: uint32(offset),
			Length: uint32(length),
			Err:    ErrNegativeBounds,
		}
	}
	return StringRef{Offset: uint32(offset), Length: uint32(length)}, nil
}
