package abi

import (
	"errors"
	"fmt"
)

var (
	// ErrExportMissing is wrapped by a BindingError for an absent export.
	ErrExportMissing = errors.New("export not found")

	// ErrSignatureMismatch is wrapped by a BindingError for an export of the wrong type.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrMemoryExportMissing is wrapped by a BindingError when the plugin exports no memory.
	ErrMemoryExportMissing = errors.New("memory export not found")

	// ErrGrowRefused is wrapped by a MemoryFault when the engine refuses to grow memory.
	ErrGrowRefused = errors.New("memory grow refused")

	// ErrOutOfBounds is wrapped by a MemoryFault for an access past the end of memory.
	ErrOutOfBounds = errors.New("access out of bounds")

	// ErrNegativeBounds is wrapped by a MemoryFault for a bounds record with a negative field.
	ErrNegativeBounds = errors.New("negative offset or length")

	// ErrAddressSpaceExhausted is wrapped by a MemoryFault when an allocation passes 4GiB.
	ErrAddressSpaceExhausted = errors.New("32-bit address space exhausted")
)

// BindingError occurs when a required export is absent or has the wrong type.
type BindingError struct {
	Export   string
	Expected string
	Actual   string
	Err      error
}

func (e *BindingError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("failed to bind export '%s': %v (expected %s, got %s)",
			e.Export, e.Err, e.Expected, e.Actual)
	}
	return fmt.Sprintf("failed to bind export '%s': %v", e.Export, e.Err)
}

func (e *BindingError) Unwrap() error {
	return e.Err
}

// MemoryFault occurs when an access or allocation does not fit plugin memory.
type MemoryFault struct {
	Op     string
	Offset uint32
	Length uint32
	Size   uint32
	Err    error
}

func (e *MemoryFault) Error() string {
	return fmt.Sprintf("memory fault (op=%s, addr=%d, len=%d, size=%d): %v",
		e.Op, e.Offset, e.Length, e.Size, e.Err)
}

func (e *MemoryFault) Unwrap() error {
	return e.Err
}

// DecodeError occurs when bytes returned by a plugin are not valid UTF-8.
type DecodeError struct {
	Offset uint32
	Length uint32
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("string at (addr=%d, len=%d) is not valid UTF-8", e.Offset, e.Length)
}

// CallError occurs when a plugin function traps.
type CallError struct {
	Export string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call to '%s' failed: %v", e.Export, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
