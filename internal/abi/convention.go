package abi

import (
	"context"
	"fmt"
)

// Convention names a calling convention between host and plugin.
type Convention string

const (
	// ConventionAuto picks canonical if the plugin exports cabi_realloc, raw otherwise.
	ConventionAuto Convention = "auto"

	// ConventionRaw is the manual pointer/length protocol.
	ConventionRaw Convention = "raw"

	// ConventionCanonical is the generated-binding protocol.
	ConventionCanonical Convention = "canonical"
)

// ParseConvention validates a convention name. The empty string means auto.
func ParseConvention(s string) (Convention, error) {
	switch c := Convention(s); c {
	case "":
		return ConventionAuto, nil
	case ConventionAuto, ConventionRaw, ConventionCanonical:
		return c, nil
	default:
		return "", fmt.Errorf("unknown calling convention '%s' (must be one of: auto, raw, canonical)", s)
	}
}

// Greeter is a plugin bound to a calling convention.
// A Greeter owns its instance's memory and is not safe for concurrent use.
type Greeter interface {
	// Convention returns the convention selected at bind time.
	Convention() Convention

	// Language returns the plugin's language name.
	Language(ctx context.Context) (string, error)

	// Greet returns the plugin's greeting for name.
	Greet(ctx context.Context, name string) (string, error)
}
