package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/i18n-greeter/internal/config"
	"github.com/woxQAQ/i18n-greeter/internal/host"
	"github.com/woxQAQ/i18n-greeter/internal/plugin"
	"github.com/woxQAQ/i18n-greeter/internal/report"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// UsageError is a bad command line.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

type options struct {
	configPath string
	logLevel   string
	plugins    string
	policy     string
	engine     string
	convention string
	schema     bool

	name string
}

func newFlagSet(opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("greeter", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.plugins, "plugins", "", "Plugin directory (overrides plugin_paths)")
	fs.StringVar(&opts.policy, "policy", "", "Error policy (fail-fast, continue)")
	fs.StringVar(&opts.engine, "engine", "", "Wasm engine (wazero, wasmtime)")
	fs.StringVar(&opts.convention, "convention", "", "Calling convention (auto, raw, canonical)")
	fs.BoolVar(&opts.schema, "config-schema", false, "Print the JSON schema of the configuration file and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: greeter [flags] <name>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs parses the command line. Exactly one positional argument is
// required unless the schema is requested.
func parseArgs(args []string, output io.Writer) (*options, error) {
	opts := &options{}
	fs := newFlagSet(opts)
	fs.SetOutput(output)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, &UsageError{Message: err.Error()}
	}

	if opts.schema {
		return opts, nil
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return nil, &UsageError{Message: fmt.Sprintf("expected exactly one name to greet, got %d arguments", fs.NArg())}
	}
	opts.name = fs.Arg(0)

	return opts, nil
}

// apply overrides cfg with the flags that were set.
func (o *options) apply(cfg *config.Config) error {
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.plugins != "" {
		cfg.PluginPaths = []string{o.plugins}
	}
	if o.policy != "" {
		cfg.ErrorPolicy = o.policy
	}
	if o.engine != "" {
		cfg.Wasm.Engine = o.engine
	}
	if o.convention != "" {
		cfg.Convention = o.convention
	}
	return cfg.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	return zapConfig.Build()
}

func main() {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	code := run(ctx, os.Args[1:], report.NewStdoutPrinter(), os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, reporter plugin.Reporter, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "greeter: %v\n", err)
		return exitUsage
	}

	if opts.schema {
		schema, err := config.Schema()
		if err != nil {
			fmt.Fprintf(stderr, "greeter: %v\n", err)
			return exitError
		}
		fmt.Fprintln(stdout, string(schema))
		return exitOK
	}

	// Load configuration
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "greeter: failed to load configuration: %v\n", err)
		return exitError
	}
	if err := opts.apply(cfg); err != nil {
		fmt.Fprintf(stderr, "greeter: %v\n", err)
		return exitUsage
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "greeter: failed to create logger: %v\n", err)
		return exitError
	}
	defer logger.Sync()

	logger.Debug("Starting greeter",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	h, err := host.New(ctx, cfg, logger, host.WithReporter(reporter))
	if err != nil {
		logger.Error("Failed to create plugin host", zap.Error(err))
		return exitError
	}
	defer h.Close(ctx)

	if err := h.Run(ctx, opts.name); err != nil {
		logger.Error("Plugin run failed", zap.Error(err))
		fmt.Fprintf(stderr, "greeter: %v\n", err)
		return exitError
	}

	return exitOK
}
