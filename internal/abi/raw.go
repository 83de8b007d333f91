package abi

import (
	"context"

	"go.uber.org/zap"

	wasmabi "github.com/woxQAQ/i18n-greeter/api/wasm"
	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

// rawGreeter implements the raw-pointer convention. The host allocates
// everything with a cursor and rewinds it after every call.
type rawGreeter struct {
	mem      wasm.Memory
	cursor   *Cursor
	language wasm.Function
	greet    wasm.Function
	logger   *zap.Logger

	reportedGrows int
}

func (g *rawGreeter) Convention() Convention {
	return ConventionRaw
}

func (g *rawGreeter) Language(ctx context.Context) (string, error) {
	defer g.reset()

	out, err := g.cursor.Allocate(wasmabi.OutputSlotSize)
	if err != nil {
		return "", err
	}

	if _, err := g.language.Call(ctx, uint64(out)); err != nil {
		return "", &CallError{Export: wasmabi.LanguageExport, Err: err}
	}

	return g.result(out)
}

func (g *rawGreeter) Greet(ctx context.Context, name string) (string, error) {
	defer g.reset()

	// The output slot comes before the input.
	out, err := g.cursor.Allocate(wasmabi.OutputSlotSize)
	if err != nil {
		return "", err
	}

	in, err := WriteString(g.cursor, g.mem, name)
	if err != nil {
		return "", err
	}

	if _, err := g.greet.Call(ctx, uint64(out), uint64(in.Offset), uint64(in.Length)); err != nil {
		return "", &CallError{Export: wasmabi.GreetExport, Err: err}
	}

	return g.result(out)
}

// result follows the bounds record at out and copies the string it names.
func (g *rawGreeter) result(out uint32) (string, error) {
	ref, err := ReadBounds(g.mem, out)
	if err != nil {
		return "", err
	}
	return ReadString(g.mem, ref)
}

func (g *rawGreeter) reset() {
	if grows := g.cursor.Grows(); grows > g.reportedGrows {
		g.logger.Debug("Plugin memory grown",
			zap.Int("pages_added", grows-g.reportedGrows),
			zap.Uint32("size_bytes", g.mem.Size()),
		)
		g.reportedGrows = grows
	}
	g.cursor.Reset()
}
