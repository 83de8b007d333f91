package abi

import (
	"slices"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
)

const (
	// Flattened results beyond this go through a return pointer.
	maxFlatResults = 1

	// Flattened params beyond this go through a single pointer.
	maxFlatParams = 16
)

// signature is a core Wasm function type.
type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

func sig(params, results []api.ValueType) signature {
	return signature{params: params, results: results}
}

func (s signature) equal(other signature) bool {
	return slices.Equal(s.params, other.params) && slices.Equal(s.results, other.results)
}

func (s signature) String() string {
	return "(" + typeNames(s.params) + ") -> (" + typeNames(s.results) + ")"
}

func typeNames(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f32 = api.ValueTypeF32
	f64 = api.ValueTypeF64
)

// witFunc is an interface function described in WIT types.
type witFunc struct {
	name    string
	params  []wit.Type
	results []wit.Type
}

// The greeter interface:
//
//	language: func() -> string
//	greet: func(name: string) -> string
var (
	witLanguage = witFunc{name: "language", results: []wit.Type{wit.String{}}}
	witGreet    = witFunc{name: "greet", params: []wit.Type{wit.String{}}, results: []wit.Type{wit.String{}}}
)

// flatten lowers a WIT type to core value types.
func flatten(t wit.Type) []api.ValueType {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return []api.ValueType{i32}
	case wit.U64, wit.S64:
		return []api.ValueType{i64}
	case wit.F32:
		return []api.ValueType{f32}
	case wit.F64:
		return []api.ValueType{f64}
	case wit.String:
		return []api.ValueType{i32, i32} // ptr, len
	default:
		return nil
	}
}

// lift derives the core signature a component exports for f.
func (f witFunc) lift() signature {
	var params, results []api.ValueType
	for _, p := range f.params {
		params = append(params, flatten(p)...)
	}
	if len(params) > maxFlatParams {
		params = []api.ValueType{i32}
	}
	for _, r := range f.results {
		results = append(results, flatten(r)...)
	}
	if len(results) > maxFlatResults {
		results = []api.ValueType{i32} // retptr
	}
	return sig(params, results)
}

// Core signatures of both conventions.
var (
	rawLanguageSig = sig([]api.ValueType{i32}, nil)
	rawGreetSig    = sig([]api.ValueType{i32, i32, i32}, nil)

	canonicalLanguageSig = witLanguage.lift()
	canonicalGreetSig    = witGreet.lift()
	reallocSig           = sig([]api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	postReturnSig        = sig([]api.ValueType{i32}, nil)
)
