package plugin

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	wasmabi "github.com/woxQAQ/i18n-greeter/api/wasm"
	"github.com/woxQAQ/i18n-greeter/internal/abi"
	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

// Result is what one plugin produced.
type Result struct {
	Plugin     string
	Language   string
	Greeting   string
	Convention abi.Convention
}

// Reporter receives the result of every plugin that finishes.
type Reporter interface {
	Report(ctx context.Context, result Result) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, result Result) error

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, result Result) error {
	return f(ctx, result)
}

// DriverConfig holds driver configuration.
type DriverConfig struct {
	// Directories scanned for plugin modules
	Paths []string

	// What a failing plugin does to the rest of the run
	Policy ErrorPolicy

	// Convention for plugins whose manifest does not name one
	Convention abi.Convention

	// Name of the memory export
	MemoryExport string
}

// Driver runs every discovered plugin through its lifecycle, one at a time.
type Driver struct {
	cfg         DriverConfig
	runtime     *wasm.Runtime
	loader      *Loader
	registry    *Registry
	instanceMgr *wasm.InstanceManager
	reporter    Reporter
	logger      *zap.Logger
	baseLogger  *zap.Logger

	mu sync.Mutex
}

// NewDriver creates a new driver.
func NewDriver(cfg DriverConfig, runtime *wasm.Runtime, reporter Reporter, logger *zap.Logger) *Driver {
	if cfg.Policy == "" {
		cfg.Policy = PolicyFailFast
	}
	if cfg.Convention == "" {
		cfg.Convention = abi.ConventionAuto
	}
	if cfg.MemoryExport == "" {
		cfg.MemoryExport = wasmabi.MemoryExport
	}

	return &Driver{
		cfg:         cfg,
		runtime:     runtime,
		loader:      NewLoader(runtime, logger),
		registry:    NewRegistry(logger),
		instanceMgr: wasm.NewInstanceManager(runtime, logger),
		reporter:    reporter,
		logger:      logger.With(zap.String("component", "plugin-driver")),
		baseLogger:  logger,
	}
}

// Run discovers the plugins and greets name with each of them.
//
// Under PolicyFailFast the first failure is returned at once. Under
// PolicyContinue every failure is logged and the combined error is
// returned after the last plugin. Each failure is a *PluginError.
func (d *Driver) Run(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("Running plugins",
		zap.Strings("paths", d.cfg.Paths),
		zap.String("policy", string(d.cfg.Policy)),
	)

	// Each run starts with an empty set of loaded plugins.
	d.registry = NewRegistry(d.baseLogger)

	paths, err := d.loader.Discover(d.cfg.Paths)
	if err != nil {
		return err
	}

	var errs error
	finished := 0
	for _, path := range paths {
		if err := d.runPlugin(ctx, path, name); err != nil {
			if d.cfg.Policy == PolicyFailFast {
				return err
			}
			d.logger.Warn("Plugin failed, continuing", zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		finished++
	}

	d.logger.Info("Plugins finished",
		zap.Int("discovered", len(paths)),
		zap.Int("loaded", d.registry.Count()),
		zap.Int("bound_raw", len(d.registry.LookupByConvention(abi.ConventionRaw))),
		zap.Int("bound_canonical", len(d.registry.LookupByConvention(abi.ConventionCanonical))),
		zap.Int("finished", finished),
		zap.Int("failed", len(multierr.Errors(errs))),
	)
	for _, p := range d.registry.List() {
		d.logger.Debug("Loaded plugin",
			zap.String("name", p.Name()),
			zap.String("version", p.Version()),
			zap.String("path", p.Path),
		)
	}

	return errs
}

// runPlugin drives one plugin from Discovered to Finished. The instance is
// closed before it returns, whatever the outcome.
func (d *Driver) runPlugin(ctx context.Context, path, name string) (err error) {
	state := StateDiscovered
	pluginName := path
	logger := d.logger.With(zap.String("plugin", path))

	fail := func(cause error) error {
		return &PluginError{Plugin: pluginName, State: state, Err: cause}
	}
	advance := func(next State) {
		logger.Debug("Plugin state changed",
			zap.Stringer("from", state),
			zap.Stringer("to", next),
		)
		state = next
	}

	p, err := d.loader.Load(ctx, path)
	if err != nil {
		return fail(err)
	}
	pluginName = p.Name()
	logger = logger.With(zap.String("name", pluginName))
	advance(StateLoaded)

	if err := d.registry.Register(p); err != nil {
		return fail(err)
	}

	if err := d.checkDeclaredCapabilities(p); err != nil {
		return fail(err)
	}

	instance, err := d.instanceMgr.Instantiate(ctx, &wasm.InstanceConfig{ModuleName: p.Compiled.Name})
	if err != nil {
		return fail(err)
	}
	defer func() {
		if closeErr := instance.Close(ctx); closeErr != nil && err == nil {
			err = fail(fmt.Errorf("failed to close instance: %w", closeErr))
		}
	}()
	advance(StateInstantiated)

	greeter, err := abi.Bind(instance, p.Convention(d.cfg.Convention),
		abi.WithMemoryExport(d.cfg.MemoryExport),
		abi.WithLogger(logger),
	)
	if err != nil {
		return fail(err)
	}
	d.registry.MarkBound(p.Path, greeter.Convention())
	advance(StateBound)

	language, err := greeter.Language(ctx)
	if err != nil {
		return fail(err)
	}
	advance(StateCalledLanguage)

	greeting, err := greeter.Greet(ctx, name)
	if err != nil {
		return fail(err)
	}
	advance(StateCalledGreet)

	advance(StateFinished)

	result := Result{
		Plugin:     pluginName,
		Language:   language,
		Greeting:   greeting,
		Convention: greeter.Convention(),
	}
	if err := d.reporter.Report(ctx, result); err != nil {
		return fail(fmt.Errorf("failed to report result: %w", err))
	}

	return nil
}

// checkDeclaredCapabilities fails early when the manifest asks for a
// capability the host does not register.
func (d *Driver) checkDeclaredCapabilities(p *Plugin) error {
	registry := d.runtime.Registry()
	for _, name := range p.Capabilities() {
		if _, ok := registry.Get(name); !ok {
			return &wasm.UnsatisfiedImportError{
				ModuleName: p.Compiled.Name,
				Module:     d.runtime.HostModule(),
				Name:       name,
				Reason:     "declared in manifest but no capability is registered under this name",
			}
		}
	}
	return nil
}

// Registry returns the loaded plugins (for testing/inspection).
func (d *Driver) Registry() *Registry {
	return d.registry
}
