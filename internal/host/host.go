// Package host wires the capability registry, Wasm runtime and plugin
// driver together from a loaded configuration.
package host

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/woxQAQ/i18n-greeter/internal/abi"
	"github.com/woxQAQ/i18n-greeter/internal/capability"
	"github.com/woxQAQ/i18n-greeter/internal/config"
	"github.com/woxQAQ/i18n-greeter/internal/plugin"
	"github.com/woxQAQ/i18n-greeter/internal/report"
	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

type options struct {
	clock    capability.Clock
	reporter plugin.Reporter
}

// Option customizes a Host.
type Option func(*options)

// WithClock sets the clock behind the hour capability.
func WithClock(clock capability.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithReporter sets where plugin results go. Defaults to stdout.
func WithReporter(reporter plugin.Reporter) Option {
	return func(o *options) { o.reporter = reporter }
}

type Host struct {
	cfg         *config.Config
	logger      *zap.Logger
	wasmRuntime *wasm.Runtime
	driver      *plugin.Driver
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Host, error) {
	o := &options{clock: capability.SystemClock}
	for _, opt := range opts {
		opt(o)
	}
	if o.reporter == nil {
		o.reporter = report.NewStdoutPrinter()
	}

	policy, err := plugin.ParseErrorPolicy(cfg.ErrorPolicy)
	if err != nil {
		return nil, err
	}
	convention, err := abi.ParseConvention(cfg.Convention)
	if err != nil {
		return nil, err
	}

	// Host capabilities.
	registry := capability.NewRegistry(logger)
	if err := registry.Register(capability.HourCapability(o.clock)); err != nil {
		return nil, fmt.Errorf("failed to register capabilities: %w", err)
	}

	// Initialize Wasm runtime.
	wasmConfig := &wasm.RuntimeConfig{
		Engine:       cfg.Wasm.Engine,
		MemoryPages:  cfg.Wasm.MemoryPages,
		DebugEnabled: cfg.Wasm.Debug,
		CacheDir:     cfg.Wasm.CacheDir,
		MaxInstances: cfg.Wasm.MaxInstances,
		HostModule:   cfg.Wasm.HostModule,
	}

	wasmRuntime, err := wasm.NewRuntime(ctx, logger, wasmConfig, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	driver := plugin.NewDriver(plugin.DriverConfig{
		Paths:        cfg.PluginPaths,
		Policy:       policy,
		Convention:   convention,
		MemoryExport: cfg.Wasm.MemoryExport,
	}, wasmRuntime, o.reporter, logger)

	logger.Info("Plugin host initialized",
		zap.Strings("plugin_paths", cfg.PluginPaths),
		zap.String("engine", cfg.Wasm.Engine),
		zap.String("error_policy", string(policy)),
		zap.String("convention", string(convention)),
	)

	return &Host{
		cfg:         cfg,
		logger:      logger,
		wasmRuntime: wasmRuntime,
		driver:      driver,
	}, nil
}

// Run greets name with every plugin.
func (h *Host) Run(ctx context.Context, name string) error {
	return h.driver.Run(ctx, name)
}

// Runtime returns the underlying Wasm runtime.
func (h *Host) Runtime() *wasm.Runtime {
	return h.wasmRuntime
}

// Close gracefully shuts down the host.
func (h *Host) Close(ctx context.Context) error {
	h.logger.Debug("Shutting down plugin host")

	// Shutdown Wasm runtime.
	if err := h.wasmRuntime.Close(ctx); err != nil {
		h.logger.Error("Failed to shutdown Wasm runtime", zap.Error(err))
		return err
	}

	h.logger.Debug("Plugin host shutdown complete")
	return nil
}
