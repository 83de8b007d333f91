// Package wasm defines the contract between the greeter host and its plugins.
//
// NOTE: uint32 is used for pointers and lengths because WebAssembly uses a 32-bit
// linear memory model. All Wasm memory addresses are represented as 32-bit integers
// (addresses 0 to 4GB).
//
// Two calling conventions are supported.
//
// Raw pointer convention. The host owns the plugin's memory and bump-allocates
// from offset 0. Results are returned through an 8-byte bounds record
// (offset:i32 LE, length:i32 LE) written by the plugin at an address chosen by the host:
//
//	(export "memory" (memory 1))
//	(func (export "language") (param $out i32))
//	(func (export "greet") (param $out i32) (param $ptr i32) (param $len i32))
//
// Canonical convention. The plugin owns allocation, exported through
// cabi_realloc, and returns a pointer to the bounds record:
//
//	(func (export "cabi_realloc") (param i32 i32 i32 i32) (result i32))
//	(func (export "language") (result i32))
//	(func (export "greet") (param $ptr i32) (param $len i32) (result i32))
//	(func (export "cabi_post_language") (param i32))  ;; optional
//	(func (export "cabi_post_greet") (param i32))     ;; optional
//
// Both conventions may import host capabilities from HostModule:
//
//	(import "env" "hour" (func (result i32)))
package wasm

const (
	// MemoryExport is the default name of the plugin's linear memory export.
	MemoryExport = "memory"

	LanguageExport = "language"
	GreetExport    = "greet"

	// ReallocExport is the canonical allocator. Its presence selects the
	// canonical convention when the convention is auto-detected.
	ReallocExport = "cabi_realloc"

	// PostReturnPrefix prefixes the optional post-return hook of a canonical export.
	PostReturnPrefix = "cabi_post_"

	// HostModule is the default import module for host capabilities.
	HostModule = "env"

	// HourImport returns the host's local hour, 0-23.
	HourImport = "hour"
)

const (
	// PageSize is the size of one Wasm memory page.
	PageSize = 65536

	// BoundsRecordSize is the size of an (offset, length) record.
	BoundsRecordSize = 8

	// OutputSlotSize is what the host reserves for a raw-pointer result record.
	OutputSlotSize = 16
)
