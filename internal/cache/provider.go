package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/config"
	"github.com/larry091001/incubator-skywalking/internal/module"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

// ModuleName is the registry name of the cache module
const ModuleName = "cache"

// Service tokens bound by the cache module
const (
	ApplicationCacheToken module.Token = "cache.ApplicationCache"
	ServiceNameCacheToken module.Token = "cache.ServiceNameCache"
)

// Provider builds the name caches on top of the storage DAOs
type Provider struct {
	*module.BaseProvider
	logger    *zap.Logger
	config    config.CacheConfig
	store     Store
	refresher *Refresher
}

// NewProvider returns a factory for the cache module
func NewProvider(cfg config.CacheConfig) module.Factory {
	return func(logger *zap.Logger) (module.Provider, error) {
		return &Provider{
			BaseProvider: &module.BaseProvider{},
			logger:       logger,
			config:       cfg,
		}, nil
	}
}

// Name implements module.Provider
func (p *Provider) Name() string {
	if p.config.RedisAddr != "" {
		return "redis"
	}
	return "memory"
}

// RequiredModules implements module.Provider
func (p *Provider) RequiredModules() []string {
	return []string{config.ModuleName, storage.ModuleName}
}

// Prepare builds the caches and binds them
func (p *Provider) Prepare(ctx context.Context, modules module.Finder) error {
	size, err := module.Resolve[config.WorkerCacheSize](modules, config.ModuleName, config.WorkerCacheSizeToken)
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

	if p.config.RedisAddr != "" {
		store, err := NewRedisStore(ctx, p.config.RedisAddr, p.config.RedisPassword, p.config.RedisDB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis %s: %w", p.config.RedisAddr, err)
		}
		p.store = store
	}

	appCache := NewApplicationCache(p.logger.Named("application"), applications, int(size), p.store, p.config.RedisTTL)
	serviceCache := NewServiceNameCache(p.logger.Named("service-name"), services, int(size), p.store, p.config.RedisTTL)

	p.refresher, err = NewRefresher(p.logger, p.config.RefreshSpec, appCache, serviceCache)
	if err != nil {
		return err
	}

	if err := p.RegisterService(ApplicationCacheToken, ApplicationCache(appCache)); err != nil {
		return err
	}
	return p.RegisterService(ServiceNameCacheToken, ServiceNameCache(serviceCache))
}

// Start begins the periodic purge
func (p *Provider) Start(ctx context.Context, modules module.Finder) error {
	p.refresher.Start()
	return nil
}

// NotifyAfterCompleted implements module.Provider
func (p *Provider) NotifyAfterCompleted(ctx context.Context, modules module.Finder) error {
	return nil
}

// Stop halts the purge schedule and closes the shared store
func (p *Provider) Stop(ctx context.Context) error {
	if p.refresher != nil {
		p.refresher.Stop()
	}
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}
