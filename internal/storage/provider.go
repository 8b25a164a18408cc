package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/config"
	"github.com/larry091001/incubator-skywalking/internal/module"
)

// ModuleName is the registry name of the storage module
const ModuleName = "storage"

// Service tokens bound by the storage module
const (
	ApplicationDAOToken             module.Token = "storage.ApplicationDAO"
	ServiceNameDAOToken             module.Token = "storage.ServiceNameDAO"
	InstanceDAOToken                module.Token = "storage.InstanceDAO"
	AlarmContactDAOToken            module.Token = "storage.AlarmContactDAO"
	ApplicationAlarmContactDAOToken module.Token = "storage.ApplicationAlarmContactDAO"
	AlarmDAOToken                   module.Token = "storage.AlarmDAO"
	ServiceReferenceMetricDAOToken  module.Token = "storage.ServiceReferenceMetricDAO"
)

// Provider opens the database and binds one DAO per table family
type Provider struct {
	*module.BaseProvider
	logger *zap.Logger
	config config.StorageConfig
	db     *DB
	owned  bool
}

// ProviderOption customises the storage provider
type ProviderOption func(*Provider)

// WithDB makes the provider use an already opened database. The caller
// keeps ownership and closes it.
func WithDB(db *DB) ProviderOption {
	return func(p *Provider) {
		p.db = db
	}
}

// NewProvider returns a factory for the storage module
func NewProvider(cfg config.StorageConfig, opts ...ProviderOption) module.Factory {
	return func(logger *zap.Logger) (module.Provider, error) {
		p := &Provider{
			BaseProvider: &module.BaseProvider{},
			logger:       logger,
			config:       cfg,
		}
		for _, opt := range opts {
			opt(p)
		}
		return p, nil
	}
}

// Name implements module.Provider
func (p *Provider) Name() string {
	return p.config.Driver
}

// RequiredModules implements module.Provider
func (p *Provider) RequiredModules() []string {
	return nil
}

// Prepare opens the database and binds the DAOs
func (p *Provider) Prepare(ctx context.Context, modules module.Finder) error {
	if p.db == nil {
		db, err := Open(ctx, p.logger, p.config.Driver, p.config.DSN)
		if err != nil {
			return err
		}
		p.db = db
		p.owned = true
	}

	bindings := []struct {
		token module.Token
		impl  any
	}{
		{ApplicationDAOToken, ApplicationDAO(NewApplicationDAO(p.logger, p.db))},
		{ServiceNameDAOToken, ServiceNameDAO(NewServiceNameDAO(p.logger, p.db))},
		{InstanceDAOToken, InstanceDAO(NewInstanceDAO(p.logger, p.db))},
		{AlarmContactDAOToken, AlarmContactDAO(NewAlarmContactDAO(p.logger, p.db))},
		{ApplicationAlarmContactDAOToken, ApplicationAlarmContactDAO(NewApplicationAlarmContactDAO(p.logger, p.db))},
		{AlarmDAOToken, AlarmDAO(NewAlarmDAO(p.logger, p.db))},
		{ServiceReferenceMetricDAOToken, ServiceReferenceMetricDAO(NewServiceReferenceMetricDAO(p.logger, p.db))},
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

// Stop closes a database opened by the provider
func (p *Provider) Stop(ctx context.Context) error {
	if p.db == nil || !p.owned {
		return nil
	}
	p.logger.Info("Closing database")
	return p.db.Close()
}
