package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Manifest is the optional sidecar next to a plugin module:
// greeter.wasm is described by greeter.yaml (or greeter.yml).
type Manifest struct {
	Name         string   `yaml:"name" validate:"required"`
	Version      string   `yaml:"version" validate:"omitempty,semver"`
	Convention   string   `yaml:"convention" validate:"omitempty,oneof=auto raw canonical"`
	Capabilities []string `yaml:"capabilities" validate:"dive,required"`
	Author       string   `yaml:"author"`
	License      string   `yaml:"license"`

	// Internal fields
	path string // Manifest file path
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report yaml field names rather than Go ones.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ManifestExtensions are the file extensions of sidecar manifests.
var ManifestExtensions = []string{".yaml", ".yml"}

// IsManifest reports whether path names a sidecar manifest rather than a module.
func IsManifest(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ManifestExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// FindManifest returns the sidecar manifest path for a module, or "" if there is none.
func FindManifest(modulePath string) string {
	base := strings.TrimSuffix(modulePath, filepath.Ext(modulePath))
	for _, ext := range ManifestExtensions {
		if info, err := os.Stat(base + ext); err == nil && info.Mode().IsRegular() {
			return base + ext
		}
	}
	return ""
}

// ParseManifest reads, parses and validates a sidecar manifest.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest '%s': %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: path,
			Err:  err,
		}
	}

	m.path = path

	// Validate manifest
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ManifestValidationError{Path: m.path, Message: err.Error()}
	}

	fe := fieldErrs[0]
	return &ManifestValidationError{
		Path:    m.path,
		Field:   fe.Namespace()[strings.Index(fe.Namespace(), ".")+1:],
		Message: validationMessage(fe),
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "semver":
		return fmt.Sprintf("%s '%v' is not a semantic version", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s failed the '%s' check", fe.Field(), fe.Tag())
	}
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return m.path
}
