package query

import (
	"context"

	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/cache"
	"github.com/larry091001/incubator-skywalking/internal/module"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

// ModuleName is the registry name of the query module
const ModuleName = "query"

// Service tokens bound by the query module
const (
	ServiceReferenceMetricServiceToken  module.Token = "query.ServiceReferenceMetricService"
	AlarmContactServiceToken            module.Token = "query.AlarmContactService"
	ApplicationAlarmContactServiceToken module.Token = "query.ApplicationAlarmContactService"
	CatalogServiceToken                 module.Token = "query.CatalogService"
)

// Provider exposes the analytics and administration services
type Provider struct {
	*module.BaseProvider
	logger *zap.Logger
}

// NewProvider returns a factory for the query module
func NewProvider() module.Factory {
	return func(logger *zap.Logger) (module.Provider, error) {
		return &Provider{
			BaseProvider: &module.BaseProvider{},
			logger:       logger,
		}, nil
	}
}

// Name implements module.Provider
func (p *Provider) Name() string {
	return "default"
}

// RequiredModules implements module.Provider
func (p *Provider) RequiredModules() []string {
	return []string{storage.ModuleName, cache.ModuleName}
}

// Prepare builds and binds the services
func (p *Provider) Prepare(ctx context.Context, modules module.Finder) error {
	references, err := module.Resolve[storage.ServiceReferenceMetricDAO](modules, storage.ModuleName, storage.ServiceReferenceMetricDAOToken)
	if err != nil {
		return err
	}
	applications, err := module.Resolve[storage.ApplicationDAO](modules, storage.ModuleName, storage.ApplicationDAOToken)
	if err != nil {
		return err
	}
	services, err := module.Resolve[storage.ServiceNameDAO](modules, storage.ModuleName, storage.ServiceNameDAOToken)
	if err != nil {
		return err
	}
	contacts, err := module.Resolve[storage.AlarmContactDAO](modules, storage.ModuleName, storage.AlarmContactDAOToken)
	if err != nil {
		return err
	}
	links, err := module.Resolve[storage.ApplicationAlarmContactDAO](modules, storage.ModuleName, storage.ApplicationAlarmContactDAOToken)
	if err != nil {
		return err
	}
	alarms, err := module.Resolve[storage.AlarmDAO](modules, storage.ModuleName, storage.AlarmDAOToken)
	if err != nil {
		return err
	}
	applicationCache, err := module.Resolve[cache.ApplicationCache](modules, cache.ModuleName, cache.ApplicationCacheToken)
	if err != nil {
		return err
	}
	serviceCache, err := module.Resolve[cache.ServiceNameCache](modules, cache.ModuleName, cache.ServiceNameCacheToken)
	if err != nil {
		return err
	}

	bindings := []struct {
		token module.Token
		impl  any
	}{
		{ServiceReferenceMetricServiceToken, NewServiceReferenceMetricService(p.logger, references, applicationCache, serviceCache)},
		{AlarmContactServiceToken, NewAlarmContactService(p.logger, contacts, links)},
		{ApplicationAlarmContactServiceToken, NewApplicationAlarmContactService(p.logger, links)},
		{CatalogServiceToken, NewCatalogService(applications, services, alarms)},
	}
	for _, b := range bindings {
		if err := p.RegisterService(b.token, b.impl); err != nil {
			return err
		}
	}
	return nil
}

// Start implements module.Provider
func (p *Provider) Start(ctx context.Context, modules module.Finder) error {
	return nil
}

// NotifyAfterCompleted implements module.Provider
func (p *Provider) NotifyAfterCompleted(ctx context.Context, modules module.Finder) error {
	return nil
}
