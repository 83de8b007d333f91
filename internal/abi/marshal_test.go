package abi

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		s    string
	}{
		{"empty", ""},
		{"ascii", "Ada"},
		{"latin", "Grüß dich, José"},
		{"cjk", "こんにちは世界"},
		{"emoji", "👋🌍"},
		{"large", strings.Repeat("ñ", 50_000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newFakeMemory(0, 1024)
			c := NewCursor(mem)

			ref, err := WriteString(c, mem, tt.s)
			require.NoError(t, err)
			assert.Equal(t, uint32(len(tt.s)), ref.Length)

			got, err := ReadString(mem, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.s, got)
		})
	}
}

func TestReadString_OutOfBounds(t *testing.T) {
	mem := newFakeMemory(1, 1)

	_, err := ReadString(mem, StringRef{Offset: 65530, Length: 10})

	var fault *MemoryFault
	require.True(t, errors.As(err, &fault))
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.Equal(t, uint32(65536), fault.Size)
}

func TestReadString_OffsetOverflow(t *testing.T) {
	mem := newFakeMemory(1, 1)

	_, err := ReadString(mem, StringRef{Offset: 0xFFFFFFF0, Length: 0x20})
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestReadString_InvalidUTF8(t *testing.T) {
	mem := newFakeMemory(1, 1)
	copy(mem.data[100:], []byte{0xff, 0xfe, 0xfd})

	_, err := ReadString(mem, StringRef{Offset: 100, Length: 3})

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, uint32(100), decodeErr.Offset)
}

func TestReadString_CopiesOut(t *testing.T) {
	mem := newFakeMemory(1, 1)
	copy(mem.data, "Ada")

	s, err := ReadString(mem, StringRef{Offset: 0, Length: 3})
	require.NoError(t, err)

	copy(mem.data, "Bob")
	assert.Equal(t, "Ada", s)
}

func TestBounds(t *testing.T) {
	ref := StringRef{Offset: 0x01020304, Length: 7}
	b := EncodeBounds(ref)

	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01, 0x07, 0x00, 0x00, 0x00}, b)

	got, err := DecodeBounds(b)
	require.NoError(t, err)
	assert.Equal(t, ref, got)
}

func TestBounds_Negative(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{"negative offset", []byte{0xff, 0xff, 0xff, 0xff, 0x01, 0x00, 0x00, 0x00}},
		{"negative length", []byte{0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBounds(tt.b)
			assert.ErrorIs(t, err, ErrNegativeBounds)
		})
	}
}

func TestReadWriteBounds(t *testing.T) {
	mem := newFakeMemory(1, 1)

	require.NoError(t, WriteBounds(mem, 32, StringRef{Offset: 48, Length: 5}))

	ref, err := ReadBounds(mem, 32)
	require.NoError(t, err)
	assert.Equal(t, StringRef{Offset: 48, Length: 5}, ref)

	_, err = ReadBounds(mem, 65532)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	assert.ErrorIs(t, WriteBounds(mem, 65532, ref), ErrOutOfBounds)
}
