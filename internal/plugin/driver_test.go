package plugin_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/i18n-greeter/internal/abi"
	"github.com/woxQAQ/i18n-greeter/internal/capability"
	"github.com/woxQAQ/i18n-greeter/internal/plugin"
	"github.com/woxQAQ/i18n-greeter/internal/plugintest"
	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

// collector records every reported result.
type collector struct {
	results []plugin.Result
	err     error
}

func (c *collector) Report(_ context.Context, result plugin.Result) error {
	if c.err != nil {
		return c.err
	}
	c.results = append(c.results, result)
	return nil
}

// DriverSuite runs the driver against real plugins on disk.
type DriverSuite struct {
	suite.Suite
	engine   string
	dir      string
	registry *capability.Registry
	runtime  *wasm.Runtime
	reporter *collector
}

func (s *DriverSuite) SetupTest() {
	logger := zaptest.NewLogger(s.T())

	s.dir = s.T().TempDir()
	s.reporter = &collector{}
	s.registry = capability.NewRegistry(logger)
	s.Require().NoError(s.registry.Register(capability.HourCapability(capability.FixedHour(20))))

	config := wasm.DefaultRuntimeConfig()
	config.Engine = s.engine
	runtime, err := wasm.NewRuntime(context.Background(), logger, config, s.registry)
	s.Require().NoError(err)
	s.runtime = runtime
}

func (s *DriverSuite) TearDownTest() {
	s.Require().NoError(s.runtime.Close(context.Background()))
}

func (s *DriverSuite) driver(policy plugin.ErrorPolicy) *plugin.Driver {
	return plugin.NewDriver(plugin.DriverConfig{
		Paths:  []string{s.dir},
		Policy: policy,
	}, s.runtime, s.reporter, zaptest.NewLogger(s.T()))
}

func (s *DriverSuite) write(name string, data []byte) {
	plugintest.WriteFile(s.T(), s.dir, name, data)
}

func (s *DriverSuite) manifest(name, content string) {
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, name), []byte(content), 0o644))
}

func (s *DriverSuite) TestRunsEveryPlugin() {
	s.write("a_english.wasm", plugintest.RawGreeter(s.T()))
	s.write("b_spanish.wasm", plugintest.CanonicalGreeter(s.T(),
		plugintest.WithLanguage("Español"),
		plugintest.WithPrefix("¡Hola, "),
	))

	s.Require().NoError(s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada"))

	s.Require().Len(s.reporter.results, 2)
	s.Equal(plugin.Result{
		Plugin:     "a_english",
		Language:   "English",
		Greeting:   "Hello, Ada!",
		Convention: abi.ConventionRaw,
	}, s.reporter.results[0])
	s.Equal(plugin.Result{
		Plugin:     "b_spanish",
		Language:   "Español",
		Greeting:   "¡Hola, Ada!",
		Convention: abi.ConventionCanonical,
	}, s.reporter.results[1])

	s.Zero(s.runtime.InstanceCount(), "every instance is closed after its plugin finishes")
}

func (s *DriverSuite) TestHourCapability() {
	s.write("clock.wasm", plugintest.RawGreeter(s.T(), plugintest.WithClock()))

	s.Require().NoError(s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada"))

	s.Require().Len(s.reporter.results, 1)
	s.Equal(plugintest.Evening+"Ada!", s.reporter.results[0].Greeting)
}

func (s *DriverSuite) TestManifest() {
	s.write("greeter.wasm", plugintest.CanonicalGreeter(s.T()))
	s.manifest("greeter.yaml", `
name: english
version: 1.2.0
convention: canonical
capabilities: [hour]
`)

	d := s.driver(plugin.PolicyFailFast)
	s.Require().NoError(d.Run(context.Background(), "Ada"))

	s.Require().Len(s.reporter.results, 1)
	s.Equal("english", s.reporter.results[0].Plugin)

	loaded := d.Registry().List()
	s.Require().Len(loaded, 1)
	s.Equal("1.2.0", loaded[0].Version())
	s.Len(d.Registry().LookupByConvention(abi.ConventionCanonical), 1)
}

func (s *DriverSuite) TestManifestConventionIsEnforced() {
	s.write("greeter.wasm", plugintest.RawGreeter(s.T()))
	s.manifest("greeter.yml", "name: english\nconvention: canonical\n")

	err := s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada")

	var pluginErr *plugin.PluginError
	s.Require().True(errors.As(err, &pluginErr))
	s.Equal(plugin.StateInstantiated, pluginErr.State)

	var bindErr *abi.BindingError
	s.Require().True(errors.As(err, &bindErr))
	s.Equal("cabi_realloc", bindErr.Export)
}

func (s *DriverSuite) TestInvalidManifest() {
	s.write("greeter.wasm", plugintest.RawGreeter(s.T()))
	s.manifest("greeter.yaml", "version: 1.0.0\n")

	err := s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada")

	var loadErr *plugin.LoadError
	s.Require().True(errors.As(err, &loadErr))

	var validationErr *plugin.ManifestValidationError
	s.Require().True(errors.As(err, &validationErr))
	s.Equal("name", validationErr.Field)
}

func (s *DriverSuite) TestUndeclaredCapability() {
	s.write("greeter.wasm", plugintest.RawGreeter(s.T()))
	s.manifest("greeter.yaml", "name: english\ncapabilities: [minute]\n")

	err := s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada")

	var unsatisfied *wasm.UnsatisfiedImportError
	s.Require().True(errors.As(err, &unsatisfied))
	s.Equal("minute", unsatisfied.Name)
	s.Empty(s.reporter.results)
}

func (s *DriverSuite) TestUnsatisfiedImport() {
	s.write("greeter.wasm", plugintest.RawGreeter(s.T(), plugintest.WithImport("env", "minute", "(result i32)")))

	err := s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada")

	var pluginErr *plugin.PluginError
	s.Require().True(errors.As(err, &pluginErr))
	s.Equal(plugin.StateLoaded, pluginErr.State)

	var unsatisfied *wasm.UnsatisfiedImportError
	s.Require().True(errors.As(err, &unsatisfied))
	s.Equal("minute", unsatisfied.Name)
}

func (s *DriverSuite) TestMissingGreet() {
	s.write("greeter.wasm", plugintest.RawGreeter(s.T(), plugintest.WithoutExport("greet")))

	err := s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada")

	var bindErr *abi.BindingError
	s.Require().True(errors.As(err, &bindErr))
	s.Equal("greet", bindErr.Export)
	s.Zero(s.runtime.InstanceCount())
}

func (s *DriverSuite) TestTrapAfterLanguage() {
	s.write("greeter.wasm", plugintest.RawGreeter(s.T(), plugintest.WithTrappingGreet()))

	err := s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada")

	var pluginErr *plugin.PluginError
	s.Require().True(errors.As(err, &pluginErr))
	s.Equal(plugin.StateCalledLanguage, pluginErr.State)
	s.Equal("greeter", pluginErr.Plugin)

	var callErr *abi.CallError
	s.True(errors.As(err, &callErr))
}

func (s *DriverSuite) TestFailFast() {
	s.write("a_broken.wasm", []byte("not wasm"))
	s.write("b_english.wasm", plugintest.RawGreeter(s.T()))

	err := s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada")

	var pluginErr *plugin.PluginError
	s.Require().True(errors.As(err, &pluginErr))
	s.Equal(plugin.StateDiscovered, pluginErr.State)

	var loadErr *plugin.LoadError
	s.Require().True(errors.As(err, &loadErr))

	var compileErr *wasm.CompilationError
	s.True(errors.As(err, &compileErr))

	s.Empty(s.reporter.results, "the run stops at the first failure")
}

func (s *DriverSuite) TestContinue() {
	s.write("a_broken.wasm", []byte("not wasm"))
	s.write("b_english.wasm", plugintest.RawGreeter(s.T()))
	s.write("c_nogreet.wasm", plugintest.RawGreeter(s.T(), plugintest.WithoutExport("greet")))

	err := s.driver(plugin.PolicyContinue).Run(context.Background(), "Ada")
	s.Require().Error(err)

	errs := multierr.Errors(err)
	s.Require().Len(errs, 2)

	var first, second *plugin.PluginError
	s.Require().True(errors.As(errs[0], &first))
	s.Require().True(errors.As(errs[1], &second))
	s.Equal(plugin.StateDiscovered, first.State)
	s.Equal("c_nogreet", second.Plugin)
	s.Equal(plugin.StateInstantiated, second.State)

	s.Require().Len(s.reporter.results, 1)
	s.Equal("Hello, Ada!", s.reporter.results[0].Greeting)
}

func (s *DriverSuite) TestDuplicatePluginName() {
	s.write("a.wasm", plugintest.RawGreeter(s.T()))
	s.manifest("a.yaml", "name: english\n")
	s.write("b.wasm", plugintest.RawGreeter(s.T()))
	s.manifest("b.yaml", "name: english\n")

	err := s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada")

	var pluginErr *plugin.PluginError
	s.Require().True(errors.As(err, &pluginErr))
	s.Equal(plugin.StateLoaded, pluginErr.State)

	var dup *plugin.PluginAlreadyRegisteredError
	s.Require().True(errors.As(err, &dup))
	s.Equal("english", dup.PluginName)
	s.Equal(filepath.Join(s.dir, "a.wasm"), dup.Path)
	s.Len(s.reporter.results, 1)
}

func (s *DriverSuite) TestSameFileStem() {
	other := s.T().TempDir()
	s.write("english.wasm", plugintest.RawGreeter(s.T()))
	s.write("english.bin", plugintest.CanonicalGreeter(s.T(), plugintest.WithPrefix("Hi, ")))
	plugintest.WriteFile(s.T(), other, "english.wasm", plugintest.RawGreeter(s.T(), plugintest.WithPrefix("Hey, ")))

	d := plugin.NewDriver(plugin.DriverConfig{
		Paths: []string{s.dir, other, s.dir},
	}, s.runtime, s.reporter, zaptest.NewLogger(s.T()))

	s.Require().NoError(d.Run(context.Background(), "Ada"))

	s.Require().Len(s.reporter.results, 3, "every file is a candidate, whatever its stem")
	s.Equal("Hi, Ada!", s.reporter.results[0].Greeting)
	s.Equal("Hello, Ada!", s.reporter.results[1].Greeting)
	s.Equal("Hey, Ada!", s.reporter.results[2].Greeting)
	for _, result := range s.reporter.results {
		s.Equal("english", result.Plugin)
	}

	s.Equal(3, d.Registry().Count())
	s.Len(d.Registry().LookupByConvention(abi.ConventionRaw), 2)
	s.Len(d.Registry().LookupByConvention(abi.ConventionCanonical), 1)
}

func (s *DriverSuite) TestReporterError() {
	s.write("greeter.wasm", plugintest.RawGreeter(s.T()))
	s.reporter.err = errors.New("stdout closed")

	err := s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada")

	var pluginErr *plugin.PluginError
	s.Require().True(errors.As(err, &pluginErr))
	s.Equal(plugin.StateFinished, pluginErr.State)
}

func (s *DriverSuite) TestRunTwice() {
	s.write("greeter.wasm", plugintest.RawGreeter(s.T()))
	d := s.driver(plugin.PolicyFailFast)

	s.Require().NoError(d.Run(context.Background(), "Ada"))
	s.Require().NoError(d.Run(context.Background(), "Bob"))

	s.Require().Len(s.reporter.results, 2)
	s.Equal("Hello, Bob!", s.reporter.results[1].Greeting)
}

func (s *DriverSuite) TestEmptyDirectory() {
	s.Require().NoError(s.driver(plugin.PolicyFailFast).Run(context.Background(), "Ada"))
	s.Empty(s.reporter.results)
}

func (s *DriverSuite) TestMissingDirectory() {
	d := plugin.NewDriver(plugin.DriverConfig{
		Paths: []string{filepath.Join(s.dir, "missing")},
	}, s.runtime, s.reporter, zaptest.NewLogger(s.T()))

	err := d.Run(context.Background(), "Ada")

	var discoveryErr *plugin.DiscoveryError
	s.Require().True(errors.As(err, &discoveryErr))
}

func TestDriverSuite(t *testing.T) {
	for _, engine := range []string{wasm.EngineWazero, wasm.EngineWasmtime} {
		t.Run(engine, func(t *testing.T) {
			suite.Run(t, &DriverSuite{engine: engine})
		})
	}
}
