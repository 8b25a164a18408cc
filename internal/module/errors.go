package module

import (
	"errors"
	"fmt"
)

var (
	// ErrModuleNotFound is returned when no provider is registered under a module name
	ErrModuleNotFound = errors.New("module not found")

	// ErrServiceNotProvided is returned when a provider has no binding for a service token
	ErrServiceNotProvided = errors.New("service not provided")

	// ErrDuplicateModule is returned when a module name is registered twice
	ErrDuplicateModule = errors.New("duplicate module")

	// ErrDuplicateService is returned when a token is bound twice on one provider
	ErrDuplicateService = errors.New("duplicate service binding")

	// ErrServiceType is returned when a bound implementation does not have the requested type
	ErrServiceType = errors.New("service has unexpected type")

	// ErrCircularDependency is returned when required modules form a cycle
	ErrCircularDependency = errors.New("circular module dependency")

	// ErrUnknownDependency is returned when a provider requires a module nobody registered
	ErrUnknownDependency = errors.New("required module not registered")

	// ErrRegistryFrozen is returned when registering after startup began
	ErrRegistryFrozen = errors.New("module registry is frozen")

	// ErrBindingClosed is returned when binding a service outside of Prepare
	ErrBindingClosed = errors.New("service binding is closed")
)

// Phase names a step of provider startup
type Phase string

const (
	PhaseResolve  Phase = "resolve"
	PhasePrepare  Phase = "prepare"
	PhaseStart    Phase = "start"
	PhaseComplete Phase = "notify-after-completed"
)

// ConfigurationError wraps every startup failure. It is fatal by contract.
type ConfigurationError struct {
	Module string
	Phase  Phase
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("module configuration error during %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("module %s failed during %s: %v", e.Module, e.Phase, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
