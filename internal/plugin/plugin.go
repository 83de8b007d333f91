package plugin

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/woxQAQ/i18n-greeter/internal/abi"
	"github.com/woxQAQ/i18n-greeter/internal/wasm"
)

// Plugin represents a loaded plugin with its optional manifest and compiled Wasm module.
type Plugin struct {
	// Path is the module file the plugin was discovered at
	Path string

	// Manifest is the parsed sidecar metadata, nil when the plugin ships without one
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the plugin was loaded
	LoadedAt time.Time
}

// Name returns the manifest name, or the file name without its extension.
func (p *Plugin) Name() string {
	if p.Manifest != nil && p.Manifest.Name != "" {
		return p.Manifest.Name
	}
	base := filepath.Base(p.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Version returns the plugin version, empty without a manifest.
func (p *Plugin) Version() string {
	if p.Manifest == nil {
		return ""
	}
	return p.Manifest.Version
}

// Convention returns the convention declared in the manifest, or fallback
// when the manifest leaves it to auto-detection.
func (p *Plugin) Convention(fallback abi.Convention) abi.Convention {
	if p.Manifest == nil || p.Manifest.Convention == "" || p.Manifest.Convention == string(abi.ConventionAuto) {
		return fallback
	}
	return abi.Convention(p.Manifest.Convention)
}

// Capabilities returns the host capabilities the manifest declares.
func (p *Plugin) Capabilities() []string {
	if p.Manifest == nil {
		return nil
	}
	return p.Manifest.Capabilities
}
