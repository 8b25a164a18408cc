package module

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type registration struct {
	name    string
	factory Factory
}

// Manager is the process-wide catalog of modules. Modules are registered
// before Init; afterwards the catalog is read-only and Find is safe for
// concurrent use without locking.
type Manager struct {
	logger *zap.Logger

	mu            sync.Mutex
	frozen        bool
	registrations []registration
	providers     map[string]Provider
	order         []string
}

// NewManager creates an empty module manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:    logger.Named("module-manager"),
		providers: make(map[string]Provider),
	}
}

// Register adds a provider factory for moduleName
func (m *Manager) Register(moduleName string, factory Factory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, moduleName)
	}
	for _, r := range m.registrations {
		if r.name == moduleName {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, moduleName)
		}
	}

	m.registrations = append(m.registrations, registration{name: moduleName, factory: factory})
	return nil
}

// Find returns the provider of moduleName
func (m *Manager) Find(moduleName string) (Provider, error) {
	provider, ok := m.providers[moduleName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleName)
	}
	return provider, nil
}

// Modules returns module names in startup order
func (m *Manager) Modules() []string {
	return append([]string(nil), m.order...)
}

// Init builds every provider and runs Prepare and Start for each in
// dependency order, then NotifyAfterCompleted for all of them. Any
// failure stops the providers already started and is returned as a
// *ConfigurationError.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return &ConfigurationError{Phase: PhaseResolve, Err: ErrRegistryFrozen}
	}
	m.frozen = true

	for _, r := range m.registrations {
		provider, err := r.factory(m.logger.Named(r.name))
		if err != nil {
			return &ConfigurationError{Module: r.name, Phase: PhaseResolve, Err: err}
		}
		if provider == nil {
			return &ConfigurationError{Module: r.name, Phase: PhaseResolve, Err: fmt.Errorf("factory returned no provider")}
		}
		provider.bindings().module = r.name
		m.providers[r.name] = provider
	}

	order, err := m.resolveOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		provider := m.providers[name]
		base := provider.bindings()

		m.logger.Info("Preparing module",
			zap.String("module", name),
			zap.String("provider", provider.Name()))

		base.open = true
		err := provider.Prepare(ctx, m)
		base.open = false
		if err != nil {
			return m.abort(ctx, &ConfigurationError{Module: name, Phase: PhasePrepare, Err: err})
		}

		// a prepared provider may hold resources even when Start fails
		m.order = append(m.order, name)
		if err := provider.Start(ctx, m); err != nil {
			return m.abort(ctx, &ConfigurationError{Module: name, Phase: PhaseStart, Err: err})
		}
	}

	for _, name := range order {
		if err := m.providers[name].NotifyAfterCompleted(ctx, m); err != nil {
			return m.abort(ctx, &ConfigurationError{Module: name, Phase: PhaseComplete, Err: err})
		}
	}

	m.logger.Info("All modules started", zap.Strings("order", m.order))
	return nil
}

// abort stops what Init brought up and returns err
func (m *Manager) abort(ctx context.Context, err *ConfigurationError) error {
	m.logger.Error("Module startup failed, stopping started modules",
		zap.String("module", err.Module),
		zap.String("phase", string(err.Phase)),
		zap.Strings("started", m.order))

	m.stop(context.WithoutCancel(ctx))
	m.order = nil
	return err
}

// Shutdown stops started providers in reverse startup order
func (m *Manager) Shutdown(ctx context.Context) {
	m.stop(ctx)
}

func (m *Manager) stop(ctx context.Context) {
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		stopper, ok := m.providers[name].(Stopper)
		if !ok {
			continue
		}
		if err := stopper.Stop(ctx); err != nil {
			m.logger.Error("Failed to stop module",
				zap.String("module", name),
				zap.Error(err))
		}
	}
}

// resolveOrder sorts modules so that every required module precedes its
// dependents. Registration order breaks ties.
func (m *Manager) resolveOrder() ([]string, error) {
	visited := make(map[string]bool)
	path := make(map[string]bool)
	order := make([]string, 0, len(m.registrations))

	var visit func(name string) error
	visit = func(name string) error {
		if path[name] {
			return &ConfigurationError{Module: name, Phase: PhaseResolve, Err: ErrCircularDependency}
		}
		if visited[name] {
			return nil
		}

		provider, ok := m.providers[name]
		if !ok {
			return &ConfigurationError{Module: name, Phase: PhaseResolve, Err: ErrUnknownDependency}
		}

		path[name] = true
		for _, dep := range provider.RequiredModules() {
			if _, ok := m.providers[dep]; !ok {
				return &ConfigurationError{
					Module: name,
					Phase:  PhaseResolve,
					Err:    fmt.Errorf("%w: %s", ErrUnknownDependency, dep),
				}
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		path[name] = false

		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, r := range m.registrations {
		if err := visit(r.name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
