package capability

import (
	"fmt"
)

// CapabilityAlreadyRegisteredError occurs when a name is registered twice.
type CapabilityAlreadyRegisteredError struct {
	Name string
}

func (e *CapabilityAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("capability '%s' is already registered", e.Name)
}

// RegistrySealedError occurs when registering after plugins were instantiated.
type RegistrySealedError struct {
	Name string
}

func (e *RegistrySealedError) Error() string {
	return fmt.Sprintf("cannot register capability '%s': registry is sealed", e.Name)
}

// InvalidCapabilityError occurs when a capability is missing its name or function.
type InvalidCapabilityError struct {
	Name    string
	Message string
}

func (e *InvalidCapabilityError) Error() string {
	return fmt.Sprintf("invalid capability '%s': %s", e.Name, e.Message)
}
