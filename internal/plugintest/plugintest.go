// Package plugintest builds greeter plugins for tests.
//
// Plugins are generated as WebAssembly text and assembled with wasmtime's
// Wat2Wasm, so every fixture is a real module that both engines can run.
package plugintest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v14"
	"github.com/stretchr/testify/require"
)

// Convention selects the ABI a generated plugin exports.
type Convention int

const (
	// Raw exports language(out) and greet(out, ptr, len) and lets the host
	// allocate in its memory.
	Raw Convention = iota

	// Canonical exports cabi_realloc, language() -> retptr and
	// greet(ptr, len) -> retptr, and owns its allocations.
	Canonical
)

// Greetings chosen by the clock-based plugin.
const (
	Morning   = "Good morning, "
	Afternoon = "Good afternoon, "
	Evening   = "Good evening, "
)

// heapBase is where the canonical plugin's bump allocator starts.
const heapBase = 1024

type importDecl struct {
	module    string
	name      string
	signature string
}

type options struct {
	language   string
	prefix     string
	suffix     string
	pages      uint32
	clock      bool
	mismatched bool
	trapGreet  bool
	omit       map[string]bool
	imports    []importDecl
}

// Option customizes a generated plugin.
type Option func(*options)

// WithLanguage sets the string returned by language.
// Bytes are emitted verbatim, so invalid UTF-8 is possible.
func WithLanguage(language string) Option {
	return func(o *options) { o.language = language }
}

// WithPrefix sets the text greet puts before the name.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithSuffix sets the text greet puts after the name.
func WithSuffix(suffix string) Option {
	return func(o *options) { o.suffix = suffix }
}

// WithInitialPages sets the initial memory size in pages.
func WithInitialPages(pages uint32) Option {
	return func(o *options) { o.pages = pages }
}

// WithClock makes greet import env.hour and choose Morning, Afternoon or
// Evening: hour < 12, hour < 18, otherwise.
func WithClock() Option {
	return func(o *options) { o.clock = true }
}

// WithoutExport drops an export, e.g. "greet", "memory" or "cabi_post_greet".
func WithoutExport(name string) Option {
	return func(o *options) { o.omit[name] = true }
}

// WithMismatchedGreet exports greet with the wrong parameter and result types.
func WithMismatchedGreet() Option {
	return func(o *options) { o.mismatched = true }
}

// WithTrappingGreet makes greet hit unreachable.
func WithTrappingGreet() Option {
	return func(o *options) { o.trapGreet = true }
}

// WithImport adds an unused function import. signature is WAT, e.g. "(result i32)".
func WithImport(module, name, signature string) Option {
	return func(o *options) {
		o.imports = append(o.imports, importDecl{module: module, name: name, signature: signature})
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		language: "English",
		prefix:   "Hello, ",
		suffix:   "!",
		pages:    1,
		omit:     map[string]bool{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Compile assembles WebAssembly text.
func Compile(t testing.TB, wat string) []byte {
	t.Helper()
	wasm, err := wasmtime.Wat2Wasm(wat)
	require.NoError(t, err, "assembling fixture:\n%s", wat)
	return wasm
}

// RawGreeter builds a raw-pointer convention plugin.
func RawGreeter(t testing.TB, opts ...Option) []byte {
	t.Helper()
	return Compile(t, WAT(Raw, opts...))
}

// CanonicalGreeter builds a canonical convention plugin.
func CanonicalGreeter(t testing.TB, opts ...Option) []byte {
	t.Helper()
	return Compile(t, WAT(Canonical, opts...))
}

// MemoryOnly builds a module that only exports memory of the given size.
func MemoryOnly(t testing.TB, pages uint32) []byte {
	t.Helper()
	return Compile(t, fmt.Sprintf(`(module (memory (export "memory") %d))`, pages))
}

// WriteFile stores a plugin in dir and returns its path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// WAT renders the text of a greeter plugin.
func WAT(conv Convention, opts ...Option) string {
	o := newOptions(opts)

	var b strings.Builder
	b.WriteString("(module\n")

	// Imports come first in the text format.
	if o.clock {
		b.WriteString("  (import \"env\" \"hour\" (func $hour (result i32)))\n")
	}
	for i, imp := range o.imports {
		fmt.Fprintf(&b, "  (import %s %s (func $import%d %s))\n", quote(imp.module), quote(imp.name), i, imp.signature)
	}

	if o.omit["memory"] {
		fmt.Fprintf(&b, "  (memory %d)\n", o.pages)
	} else {
		fmt.Fprintf(&b, "  (memory (export \"memory\") %d)\n", o.pages)
	}
	if conv == Canonical {
		fmt.Fprintf(&b, "  (global $heap (mut i32) (i32.const %d))\n", heapBase)
	}

	// Passive segments keep constants out of the memory the host allocates in.
	fmt.Fprintf(&b, "  (data $language %s)\n", quote(o.language))
	fmt.Fprintf(&b, "  (data $suffix %s)\n", quote(o.suffix))
	if o.clock {
		fmt.Fprintf(&b, "  (data $morning %s)\n", quote(Morning))
		fmt.Fprintf(&b, "  (data $afternoon %s)\n", quote(Afternoon))
		fmt.Fprintf(&b, "  (data $evening %s)\n", quote(Evening))
	} else {
		fmt.Fprintf(&b, "  (data $prefix %s)\n", quote(o.prefix))
	}

	b.WriteString(ensureFunc)

	switch conv {
	case Canonical:
		b.WriteString(allocFuncs)
		if !o.omit["cabi_realloc"] {
			b.WriteString(reallocExport)
		}
		if !o.omit["language"] {
			fmt.Fprintf(&b, canonicalLanguage, len(o.language))
		}
		if !o.omit["greet"] {
			b.WriteString(o.greet(conv))
		}
		for _, name := range []string{"cabi_post_language", "cabi_post_greet"} {
			if !o.omit[name] {
				fmt.Fprintf(&b, "  (func (export %q) (param i32)\n    (global.set $heap (i32.const %d)))\n", name, heapBase)
			}
		}
	default:
		if !o.omit["language"] {
			fmt.Fprintf(&b, rawLanguage, len(o.language))
		}
		if !o.omit["greet"] {
			b.WriteString(o.greet(conv))
		}
	}

	b.WriteString(")\n")
	return b.String()
}

func (o *options) greet(conv Convention) string {
	if o.mismatched {
		if conv == Canonical {
			return "  (func (export \"greet\") (param i32 i32))\n"
		}
		return "  (func (export \"greet\") (param i32))\n"
	}
	if o.trapGreet {
		if conv == Canonical {
			return "  (func (export \"greet\") (param i32 i32) (result i32)\n    unreachable)\n"
		}
		return "  (func (export \"greet\") (param i32 i32 i32)\n    unreachable)\n"
	}

	setLen, initPrefix := o.prefixCode()
	if conv == Canonical {
		return fmt.Sprintf(canonicalGreet, setLen, len(o.suffix), initPrefix, len(o.suffix))
	}
	return fmt.Sprintf(rawGreet, setLen, len(o.suffix), initPrefix, len(o.suffix))
}

// prefixCode returns code that sets $plen and code that copies the prefix to $dst.
func (o *options) prefixCode() (setLen, initPrefix string) {
	if !o.clock {
		return fmt.Sprintf("(local.set $plen (i32.const %d))", len(o.prefix)),
			"(memory.init $prefix (local.get $dst) (i32.const 0) (local.get $plen))"
	}

	setLen = fmt.Sprintf(`(local.set $h (call $hour))
    (if (i32.lt_s (local.get $h) (i32.const 12))
      (then (local.set $plen (i32.const %d)))
      (else (if (i32.lt_s (local.get $h) (i32.const 18))
        (then (local.set $plen (i32.const %d)))
        (else (local.set $plen (i32.const %d))))))`, len(Morning), len(Afternoon), len(Evening))
	initPrefix = `(if (i32.lt_s (local.get $h) (i32.const 12))
      (then (memory.init $morning (local.get $dst) (i32.const 0) (local.get $plen)))
      (else (if (i32.lt_s (local.get $h) (i32.const 18))
        (then (memory.init $afternoon (local.get $dst) (i32.const 0) (local.get $plen)))
        (else (memory.init $evening (local.get $dst) (i32.const 0) (local.get $plen))))))`
	return setLen, initPrefix
}

// quote renders s as a WAT string literal, escaping every byte outside printable ASCII.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c < 0x7f && c != '"' && c != '\\' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "\\%02x", c)
	}
	b.WriteByte('"')
	return b.String()
}

// ensureFunc grows memory one page at a time until $end fits.
const ensureFunc = `  (func $ensure (param $end i32)
    (block $done
      (loop $grow
        (br_if $done (i32.le_u (local.get $end) (i32.shl (memory.size) (i32.const 16))))
        (if (i32.eq (memory.grow (i32.const 1)) (i32.const -1))
          (then unreachable))
        (br $grow))))
`

const allocFuncs = `  (func $alloc (param $align i32) (param $size i32) (result i32)
    (local $p i32)
    (local.set $p (i32.and
      (i32.add (global.get $heap) (i32.sub (local.get $align) (i32.const 1)))
      (i32.sub (i32.const 0) (local.get $align))))
    (call $ensure (i32.add (local.get $p) (local.get $size)))
    (global.set $heap (i32.add (local.get $p) (local.get $size)))
    (local.get $p))
`

const reallocExport = `  (func (export "cabi_realloc") (param $old i32) (param $oldSize i32) (param $align i32) (param $size i32) (result i32)
    (local $p i32)
    (local.set $p (call $alloc (local.get $align) (local.get $size)))
    (if (i32.ne (local.get $old) (i32.const 0))
      (then (memory.copy (local.get $p) (local.get $old)
        (select (local.get $oldSize) (local.get $size) (i32.lt_u (local.get $oldSize) (local.get $size))))))
    (local.get $p))
`

// rawLanguage writes the language 16 bytes past the output record.
const rawLanguage = `  (func (export "language") (param $out i32)
    (local $dst i32)
    (local.set $dst (i32.add (local.get $out) (i32.const 16)))
    (call $ensure (i32.add (local.get $dst) (i32.const %[1]d)))
    (memory.init $language (local.get $dst) (i32.const 0) (i32.const %[1]d))
    (i32.store (local.get $out) (local.get $dst))
    (i32.store offset=4 (local.get $out) (i32.const %[1]d)))
`

// rawGreet writes prefix, name and suffix right after the name.
const rawGreet = `  (func (export "greet") (param $out i32) (param $ptr i32) (param $len i32)
    (local $dst i32) (local $plen i32) (local $h i32) (local $total i32)
    %s
    (local.set $total (i32.add (i32.add (local.get $plen) (local.get $len)) (i32.const %d)))
    (local.set $dst (i32.add (local.get $ptr) (local.get $len)))
    (call $ensure (i32.add (local.get $dst) (local.get $total)))
    %s
    (memory.copy (i32.add (local.get $dst) (local.get $plen)) (local.get $ptr) (local.get $len))
    (memory.init $suffix (i32.add (i32.add (local.get $dst) (local.get $plen)) (local.get $len)) (i32.const 0) (i32.const %d))
    (i32.store (local.get $out) (local.get $dst))
    (i32.store offset=4 (local.get $out) (local.get $total)))
`

const canonicalLanguage = `  (func (export "language") (result i32)
    (local $rec i32) (local $dst i32)
    (local.set $rec (call $alloc (i32.const 4) (i32.const 8)))
    (local.set $dst (call $alloc (i32.const 1) (i32.const %[1]d)))
    (memory.init $language (local.get $dst) (i32.const 0) (i32.const %[1]d))
    (i32.store (local.get $rec) (local.get $dst))
    (i32.store offset=4 (local.get $rec) (i32.const %[1]d))
    (local.get $rec))
`

const canonicalGreet = `  (func (export "greet") (param $ptr i32) (param $len i32) (result i32)
    (local $rec i32) (local $dst i32) (local $plen i32) (local $h i32) (local $total i32)
    %s
    (local.set $total (i32.add (i32.add (local.get $plen) (local.get $len)) (i32.const %d)))
    (local.set $rec (call $alloc (i32.const 4) (i32.const 8)))
    (local.set $dst (call $alloc (i32.const 1) (local.get $total)))
    %s
    (memory.copy (i32.add (local.get $dst) (local.get $plen)) (local.get $ptr) (local.get $len))
    (memory.init $suffix (i32.add (i32.add (local.get $dst) (local.get $plen)) (local.get $len)) (i32.const 0) (i32.const %d))
    (i32.store (local.get $rec) (local.get $dst))
    (i32.store offset=4 (local.get $rec) (local.get $total))
    (local.get $rec))
`
