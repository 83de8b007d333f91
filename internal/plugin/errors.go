package plugin

import (
	"fmt"
)

// DiscoveryError occurs when a plugin directory cannot be read.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to read plugin directory '%s': %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// LoadError occurs when a plugin file cannot be read or compiled.
type LoadError struct {
	Plugin string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load plugin '%s': %v", e.Plugin, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when a sidecar manifest cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when a sidecar manifest fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// PluginAlreadyRegisteredError occurs when two manifests declare the same
// name, or the same module is registered twice. Path is the plugin that
// registered first.
type PluginAlreadyRegisteredError struct {
	PluginName string
	Path       string
}

func (e *PluginAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("plugin '%s' is already registered by '%s'", e.PluginName, e.Path)
}

// PluginError records which plugin failed and the last state it reached.
type PluginError struct {
	Plugin string
	State  State
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin '%s' failed after %s: %v", e.Plugin, e.State, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}
