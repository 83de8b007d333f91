package abi

import (
	"context"
	"math"

	wasmabi "github.com/woxQAQ/i18n-greeter/api/wasm"
	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

// canonicalGreeter implements the generated-binding convention. The plugin
// allocates through cabi_realloc and returns results through a pointer to a
// bounds record; the host never allocates on its own.
type canonicalGreeter struct {
	mem      wasm.Memory
	realloc  wasm.Function
	language wasm.Function
	greet    wasm.Function

	// Optional post-return hooks, nil when not exported.
	postLanguage wasm.Function
	postGreet    wasm.Function
}

func (g *canonicalGreeter) Convention() Convention {
	return ConventionCanonical
}

func (g *canonicalGreeter) Language(ctx context.Context) (string, error) {
	results, err := g.language.Call(ctx)
	if err != nil {
		return "", &CallError{Export: wasmabi.LanguageExport, Err: err}
	}
	return g.liftResult(ctx, wasmabi.LanguageExport, g.postLanguage, results[0])
}

func (g *canonicalGreeter) Greet(ctx context.Context, name string) (string, error) {
	in, err := g.lowerString(ctx, name)
	if err != nil {
		return "", err
	}

	results, err := g.greet.Call(ctx, uint64(in.Offset), uint64(in.Length))
	if err != nil {
		return "", &CallError{Export: wasmabi.GreetExport, Err: err}
	}
	return g.liftResult(ctx, wasmabi.GreetExport, g.postGreet, results[0])
}

// lowerString copies s into a buffer the plugin allocates.
func (g *canonicalGreeter) lowerString(ctx context.Context, s string) (StringRef, error) {
	if uint64(len(s)) > math.MaxUint32 {
		return StringRef{}, &MemoryFault{
			Op:     "lower string",
			Length: math.MaxUint32,
			Size:   g.mem.Size(),
			Err:    ErrAddressSpaceExhausted,
		}
	}
	n := uint32(len(s))

	// cabi_realloc(old_ptr, old_size, align, new_size)
	results, err := g.realloc.Call(ctx, 0, 0, 1, uint64(n))
	if err != nil {
		return StringRef{}, &CallError{Export: wasmabi.ReallocExport, Err: err}
	}
	ptr := uint32(results[0])

	if n > 0 && !g.mem.Write(ptr, []byte(s)) {
		return StringRef{}, &MemoryFault{
			Op:     "lower string",
			Offset: ptr,
			Length: n,
			Size:   g.mem.Size(),
			Err:    ErrOutOfBounds,
		}
	}
	return StringRef{Offset: ptr, Length: n}, nil
}

// liftResult reads the string behind a return pointer, then lets the plugin
// release it. The post-return hook runs even if lifting failed.
func (g *canonicalGreeter) liftResult(ctx context.Context, export string, post wasm.Function, retptr uint64) (string, error) {
	s, err := g.lift(uint32(retptr))

	if post != nil {
		if _, postErr := post.Call(ctx, retptr); postErr != nil && err == nil {
			err = &CallError{Export: wasmabi.PostReturnPrefix + export, Err: postErr}
		}
	}

	if err != nil {
		return "", err
	}
	return s, nil
}

func (g *canonicalGreeter) lift(retptr uint32) (string, error) {
	ref, err := ReadBounds(g.mem, retptr)
	if err != nil {
		return "", err
	}
	return ReadString(g.mem, ref)
}
