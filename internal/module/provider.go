package module

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Token identifies a service interface exposed by a provider
type Token string

// Provider implements one module. Implementations embed *BaseProvider,
// which carries the service binding table.
type Provider interface {
	// Name identifies the implementation, e.g. "default"
	Name() string

	// RequiredModules lists modules that must be started before Prepare runs
	RequiredModules() []string

	// Prepare constructs collaborators and binds services
	Prepare(ctx context.Context, modules Finder) error

	// Start runs once every required module has started. No binding is allowed.
	Start(ctx context.Context, modules Finder) error

	// NotifyAfterCompleted runs after every provider has started
	NotifyAfterCompleted(ctx context.Context, modules Finder) error

	// Service returns the implementation bound to token
	Service(token Token) (any, error)

	bindings() *BaseProvider
}

// Stopper is implemented by providers owning resources released at shutdown
type Stopper interface {
	Stop(ctx context.Context) error
}

// Factory builds a provider for a module
type Factory func(logger *zap.Logger) (Provider, error)

// Finder looks up started modules
type Finder interface {
	Find(moduleName string) (Provider, error)
}

// BaseProvider holds the services bound by a provider. Bindings are only
// written while Prepare runs on the startup goroutine, so reads afterwards
// need no locking.
type BaseProvider struct {
	module   string
	services map[Token]any
	open     bool
}

// RegisterService binds impl to token. It may only be called from Prepare.
func (b *BaseProvider) RegisterService(token Token, impl any) error {
	if !b.open {
		return fmt.Errorf("%w: %s", ErrBindingClosed, token)
	}
	if impl == nil {
		return fmt.Errorf("nil implementation for service %s", token)
	}
	if b.services == nil {
		b.services = make(map[Token]any)
	}
	if _, exists := b.services[token]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, token)
	}
	b.services[token] = impl
	return nil
}

// Service implements Provider.Service
func (b *BaseProvider) Service(token Token) (any, error) {
	impl, ok := b.services[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s on module %s", ErrServiceNotProvided, token, b.module)
	}
	return impl, nil
}

func (b *BaseProvider) bindings() *BaseProvider {
	return b
}

// Resolve finds a module and returns its service bound to token as T
func Resolve[T any](modules Finder, moduleName string, token Token) (T, error) {
	var zero T

	provider, err := modules.Find(moduleName)
	if err != nil {
		return zero, err
	}

	impl, err := provider.Service(token)
	if err != nil {
		return zero, err
	}

	typed, ok := impl.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrServiceType, token, impl)
	}
	return typed, nil
}

// Optional is like Resolve but reports a missing binding as ok=false
func Optional[T any](modules Finder, moduleName string, token Token) (T, bool, error) {
	typed, err := Resolve[T](modules, moduleName, token)
	if err != nil {
		var zero T
		if errors.Is(err, ErrServiceNotProvided) {
			return zero, false, nil
		}
		return zero, false, err
	}
	return typed, true, nil
}
