// Package capability holds the host functions a plugin may import.
//
// A capability is a plain Go function over Wasm scalar values. It is never
// handed the calling plugin's memory, so it can neither read nor write it.
package capability

import (
	"context"
	"slices"

	"github.com/tetratelabs/wazero/api"
)

// Func implements a capability. Params and results use the api.Encode*
// representation of Wasm scalars.
type Func func(ctx context.Context, params []uint64) []uint64

// Capability is a named host function exposed to plugins.
type Capability struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Func    Func
}

// Matches reports whether the capability has the given core signature.
func (c *Capability) Matches(params, results []api.ValueType) bool {
	return slices.Equal(c.Params, params) && slices.Equal(c.Results, results)
}

// Signature renders the core signature, e.g. "() -> (i32)".
func (c *Capability) Signature() string {
	return FormatSignature(c.Params, c.Results)
}

// FormatSignature renders a core function signature.
func FormatSignature(params, results []api.ValueType) string {
	return "(" + joinTypes(params) + ") -> (" + joinTypes(results) + ")"
}

func joinTypes(types []api.ValueType) string {
	s := ""
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(t)
	}
	return s
}
