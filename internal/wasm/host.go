package wasm

import (
	"github.com/woxQAQ/i18n-greeter/internal/capability"
)

// resolveImports checks every import of a compiled module against the
// capabilities on offer. Only functions from the host module can be
// provided; anything else would fail at link time with a less useful error.
func resolveImports(moduleName, hostModule string, compiled Compiled, registry *capability.Registry) error {
	for _, imp := range compiled.Imports() {
		fail := func(reason string) error {
			return &UnsatisfiedImportError{
				ModuleName: moduleName,
				Module:     imp.Module,
				Name:       imp.Name,
				Reason:     reason,
			}
		}

		if imp.Kind != ImportFunction {
			return fail("the host only provides functions, not " + imp.Kind.String() + " imports")
		}
		if imp.Module != hostModule {
			return fail("unknown import module, capabilities are provided by '" + hostModule + "'")
		}

		c, ok := registry.Get(imp.Name)
		if !ok {
			return fail("no capability registered under this name")
		}
		if !c.Matches(imp.Params, imp.Results) {
			return fail("signature mismatch: host provides " + c.Signature() +
				", module expects " + capability.FormatSignature(imp.Params, imp.Results))
		}
	}
	return nil
}
