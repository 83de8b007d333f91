package abi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/i18n-greeter/internal/capability"
	"github.com/woxQAQ/i18n-greeter/internal/plugintest"
	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

var engines = []string{wasm.EngineWazero, wasm.EngineWasmtime}

var conventions = []struct {
	name  string
	conv  Convention
	build func(testing.TB, ...plugintest.Option) []byte
}{
	{"raw", ConventionRaw, plugintest.RawGreeter},
	{"canonical", ConventionCanonical, plugintest.CanonicalGreeter},
}

// instantiate runs wasmBytes on a fresh runtime with the given capabilities.
func instantiate(t *testing.T, engine string, wasmBytes []byte, caps ...capability.Capability) *wasm.Instance {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	registry := capability.NewRegistry(logger)
	for _, c := range caps {
		require.NoError(t, registry.Register(c))
	}

	config := wasm.DefaultRuntimeConfig()
	config.Engine = engine
	runtime, err := wasm.NewRuntime(ctx, logger, config, registry)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close(ctx) })

	_, err = wasm.NewModuleLoader(runtime, logger).LoadModuleFromMemory(ctx, "plugin", wasmBytes)
	require.NoError(t, err)

	instance, err := wasm.NewInstanceManager(runtime, logger).Instantiate(ctx, &wasm.InstanceConfig{ModuleName: "plugin"})
	require.NoError(t, err)
	return instance
}

func TestGreeterOnEngines(t *testing.T) {
	ctx := context.Background()

	for _, engine := range engines {
		for _, c := range conventions {
			t.Run(engine+"/"+c.name, func(t *testing.T) {
				instance := instantiate(t, engine, c.build(t))

				g, err := Bind(instance, ConventionAuto)
				require.NoError(t, err)
				assert.Equal(t, c.conv, g.Convention())

				language, err := g.Language(ctx)
				require.NoError(t, err)
				assert.Equal(t, "English", language)

				greeting, err := g.Greet(ctx, "Ada")
				require.NoError(t, err)
				assert.Equal(t, "Hello, Ada!", greeting)

				greeting, err = g.Greet(ctx, "José 👋")
				require.NoError(t, err)
				assert.Equal(t, "Hello, José 👋!", greeting)
			})
		}
	}
}

func TestGreeterOnEngines_NoStaleBytes(t *testing.T) {
	ctx := context.Background()

	for _, engine := range engines {
		for _, c := range conventions {
			t.Run(engine+"/"+c.name, func(t *testing.T) {
				g, err := Bind(instantiate(t, engine, c.build(t)), c.conv)
				require.NoError(t, err)

				// A shorter name after a longer one must not pick up the tail
				// of the earlier call's bytes, and vice versa.
				for _, name := range []string{"Alexandria", "Bo", "Alexandria", "", "Bo"} {
					greeting, err := g.Greet(ctx, name)
					require.NoError(t, err)
					assert.Equal(t, "Hello, "+name+"!", greeting)
				}
			})
		}
	}
}

func TestGreeterOnEngines_EmptyName(t *testing.T) {
	for _, engine := range engines {
		for _, c := range conventions {
			t.Run(engine+"/"+c.name, func(t *testing.T) {
				g, err := Bind(instantiate(t, engine, c.build(t)), c.conv)
				require.NoError(t, err)

				greeting, err := g.Greet(context.Background(), "")
				require.NoError(t, err)
				assert.Equal(t, "Hello, !", greeting)
			})
		}
	}
}

func TestGreeterOnEngines_HourCapability(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{0, plugintest.Morning},
		{9, plugintest.Morning},
		{12, plugintest.Afternoon},
		{14, plugintest.Afternoon},
		{18, plugintest.Evening},
		{20, plugintest.Evening},
	}

	for _, engine := range engines {
		for _, c := range conventions {
			for _, tt := range tests {
				t.Run(fmt.Sprintf("%s/%s/%02d", engine, c.name, tt.hour), func(t *testing.T) {
					hour := capability.HourCapability(capability.FixedHour(tt.hour))
					instance := instantiate(t, engine, c.build(t, plugintest.WithClock()), hour)

					g, err := Bind(instance, c.conv)
					require.NoError(t, err)

					greeting, err := g.Greet(context.Background(), "Ada")
					require.NoError(t, err)
					assert.Equal(t, tt.want+"Ada!", greeting)
				})
			}
		}
	}
}

func TestGreeterOnEngines_LargeNameGrowsMemory(t *testing.T) {
	name := strings.Repeat("a", 100_000)

	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			instance := instantiate(t, engine, plugintest.RawGreeter(t, plugintest.WithInitialPages(0)))

			g, err := Bind(instance, ConventionRaw)
			require.NoError(t, err)

			greeting, err := g.Greet(context.Background(), name)
			require.NoError(t, err)
			assert.Equal(t, "Hello, "+name+"!", greeting)
			assert.GreaterOrEqual(t, g.(*rawGreeter).cursor.Grows(), 2)
		})
	}
}

func TestGreeterOnEngines_MissingGreet(t *testing.T) {
	for _, engine := range engines {
		for _, c := range conventions {
			t.Run(engine+"/"+c.name, func(t *testing.T) {
				instance := instantiate(t, engine, c.build(t, plugintest.WithoutExport("greet")))

				_, err := Bind(instance, c.conv)

				var bindErr *BindingError
				require.True(t, errors.As(err, &bindErr))
				assert.Equal(t, "greet", bindErr.Export)
			})
		}
	}
}

func TestGreeterOnEngines_MismatchedGreet(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			instance := instantiate(t, engine, plugintest.RawGreeter(t, plugintest.WithMismatchedGreet()))

			_, err := Bind(instance, ConventionRaw)
			assert.ErrorIs(t, err, ErrSignatureMismatch)
		})
	}
}

func TestGreeterOnEngines_MissingMemory(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			instance := instantiate(t, engine, plugintest.RawGreeter(t, plugintest.WithoutExport("memory")))

			_, err := Bind(instance, ConventionAuto)
			assert.ErrorIs(t, err, ErrMemoryExportMissing)
		})
	}
}

func TestGreeterOnEngines_Trap(t *testing.T) {
	for _, engine := range engines {
		for _, c := range conventions {
			t.Run(engine+"/"+c.name, func(t *testing.T) {
				instance := instantiate(t, engine, c.build(t, plugintest.WithTrappingGreet()))

				g, err := Bind(instance, c.conv)
				require.NoError(t, err)

				// language still works before the trap.
				_, err = g.Language(context.Background())
				require.NoError(t, err)

				_, err = g.Greet(context.Background(), "Ada")
				var callErr *CallError
				require.True(t, errors.As(err, &callErr))
				assert.Equal(t, "greet", callErr.Export)
			})
		}
	}
}

func TestGreeterOnEngines_InvalidUTF8(t *testing.T) {
	for _, engine := range engines {
		for _, c := range conventions {
			t.Run(engine+"/"+c.name, func(t *testing.T) {
				instance := instantiate(t, engine, c.build(t, plugintest.WithLanguage("\xff\xfe")))

				g, err := Bind(instance, c.conv)
				require.NoError(t, err)

				_, err = g.Language(context.Background())
				var decodeErr *DecodeError
				assert.True(t, errors.As(err, &decodeErr))
			})
		}
	}
}
