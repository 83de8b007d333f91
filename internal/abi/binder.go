package abi

import (
	"fmt"

	"go.uber.org/zap"

	wasmabi "github.com/woxQAQ/i18n-greeter/api/wasm"
	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

// Exports is what the binder needs from a plugin instance.
type Exports interface {
	ExportedFunction(name string) wasm.Function
	ExportedMemory(name string) wasm.Memory
}

type bindOptions struct {
	memoryExport string
	logger       *zap.Logger
}

// BindOption customizes Bind.
type BindOption func(*bindOptions)

// WithMemoryExport sets the name of the memory export. Default "memory".
func WithMemoryExport(name string) BindOption {
	return func(o *bindOptions) { o.memoryExport = name }
}

// WithLogger sets the logger of the returned Greeter.
func WithLogger(logger *zap.Logger) BindOption {
	return func(o *bindOptions) { o.logger = logger }
}

// Detect picks the convention a plugin implements from its exports.
func Detect(exports Exports) Convention {
	if exports.ExportedFunction(wasmabi.ReallocExport) != nil {
		return ConventionCanonical
	}
	return ConventionRaw
}

// Bind resolves every export the convention needs and checks its signature.
// It fails before any plugin code runs; the returned Greeter holds the
// resolved handles for the life of the instance.
func Bind(exports Exports, convention Convention, opts ...BindOption) (Greeter, error) {
	o := &bindOptions{
		memoryExport: wasmabi.MemoryExport,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	mem := exports.ExportedMemory(o.memoryExport)
	if mem == nil {
		return nil, &BindingError{Export: o.memoryExport, Err: ErrMemoryExportMissing}
	}

	if convention == ConventionAuto || convention == "" {
		convention = Detect(exports)
	}

	switch convention {
	case ConventionRaw:
		return bindRaw(exports, mem, o.logger)
	case ConventionCanonical:
		return bindCanonical(exports, mem)
	default:
		return nil, fmt.Errorf("unknown calling convention '%s'", convention)
	}
}

func bindRaw(exports Exports, mem wasm.Memory, logger *zap.Logger) (Greeter, error) {
	language, err := lookup(exports, wasmabi.LanguageExport, rawLanguageSig)
	if err != nil {
		return nil, err
	}
	greet, err := lookup(exports, wasmabi.GreetExport, rawGreetSig)
	if err != nil {
		return nil, err
	}

	return &rawGreeter{
		mem:      mem,
		cursor:   NewCursor(mem),
		language: language,
		greet:    greet,
		logger:   logger,
	}, nil
}

func bindCanonical(exports Exports, mem wasm.Memory) (Greeter, error) {
	realloc, err := lookup(exports, wasmabi.ReallocExport, reallocSig)
	if err != nil {
		return nil, err
	}
	language, err := lookup(exports, wasmabi.LanguageExport, canonicalLanguageSig)
	if err != nil {
		return nil, err
	}
	greet, err := lookup(exports, wasmabi.GreetExport, canonicalGreetSig)
	if err != nil {
		return nil, err
	}
	postLanguage, err := lookupOptional(exports, wasmabi.PostReturnPrefix+wasmabi.LanguageExport, postReturnSig)
	if err != nil {
		return nil, err
	}
	postGreet, err := lookupOptional(exports, wasmabi.PostReturnPrefix+wasmabi.GreetExport, postReturnSig)
	if err != nil {
		return nil, err
	}

	return &canonicalGreeter{
		mem:          mem,
		realloc:      realloc,
		language:     language,
		greet:        greet,
		postLanguage: postLanguage,
		postGreet:    postGreet,
	}, nil
}

func lookup(exports Exports, name string, want signature) (wasm.Function, error) {
	fn := exports.ExportedFunction(name)
	if fn == nil {
		return nil, &BindingError{Export: name, Err: ErrExportMissing}
	}
	if err := checkSignature(name, fn, want); err != nil {
		return nil, err
	}
	return fn, nil
}

// lookupOptional returns nil for an absent export but still rejects a mistyped one.
func lookupOptional(exports Exports, name string, want signature) (wasm.Function, error) {
	fn := exports.ExportedFunction(name)
	if fn == nil {
		return nil, nil
	}
	if err := checkSignature(name, fn, want); err != nil {
		return nil, err
	}
	return fn, nil
}

func checkSignature(name string, fn wasm.Function, want signature) error {
	got := sig(fn.ParamTypes(), fn.ResultTypes())
	if !got.equal(want) {
		return &BindingError{
			Export:   name,
			Expected: want.String(),
			Actual:   got.String(),
			Err:      ErrSignatureMismatch,
		}
	}
	return nil
}
