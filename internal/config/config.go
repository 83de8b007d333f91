package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. GREETER_WASM_ENGINE.
const EnvPrefix = "GREETER"

type Config struct {
	PluginPaths []string   `mapstructure:"plugin_paths" json:"plugin_paths" validate:"required,min=1,dive,required" jsonschema:"description=Directories scanned for plugin modules"`
	LogLevel    string     `mapstructure:"log_level" json:"log_level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	ErrorPolicy string     `mapstructure:"error_policy" json:"error_policy" validate:"oneof=fail-fast continue" jsonschema:"enum=fail-fast,enum=continue,default=fail-fast"`
	Convention  string     `mapstructure:"convention" json:"convention" validate:"oneof=auto raw canonical" jsonschema:"enum=auto,enum=raw,enum=canonical,default=auto"`
	Wasm        WasmConfig `mapstructure:"wasm" json:"wasm"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Sandbox engine.
	Engine string `mapstructure:"engine" json:"engine" validate:"oneof=wazero wasmtime" jsonschema:"enum=wazero,enum=wasmtime,default=wazero"`
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages" json:"memory_pages" validate:"min=1,max=65536" jsonschema:"minimum=1,maximum=65536,default=256"`
	// Enable debug logging.
	Debug bool `mapstructure:"debug" json:"debug"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir" json:"cache_dir"`
	// Maximum live instances.
	MaxInstances int `mapstructure:"max_instances" json:"max_instances" validate:"min=1" jsonschema:"minimum=1,default=100"`
	// Import module name capabilities are exported under.
	HostModule string `mapstructure:"host_module" json:"host_module" validate:"required" jsonschema:"default=env"`
	// Name of the plugin's memory export.
	MemoryExport string `mapstructure:"memory_export" json:"memory_export" validate:"required" jsonschema:"default=memory"`
}

var validate = validator.New()

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("plugin_paths", []string{"./plugins"})
	v.SetDefault("log_level", "info")
	v.SetDefault("error_policy", "fail-fast")
	v.SetDefault("convention", "auto")

	// Wasm defaults
	v.SetDefault("wasm.engine", "wazero")
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 100)
	v.SetDefault("wasm.host_module", "env")
	v.SetDefault("wasm.memory_export", "memory")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Schema returns the JSON schema of the config file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true, // Expand struct definitions inline
	}
	schema := reflector.Reflect(&Config{})

	jsonBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	return jsonBytes, nil
}
