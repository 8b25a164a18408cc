package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/metrics"
	"github.com/larry091001/incubator-skywalking/internal/model"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

// ApplicationCache resolves application ids. A storage failure or an
// unknown id is reported as a miss.
type ApplicationCache interface {
	GetApplicationByID(ctx context.Context, id int) (model.Application, bool)
}

// ServiceNameCache resolves service ids
type ServiceNameCache interface {
	Get(ctx context.Context, id int) (model.ServiceName, bool)
}

// Purger drops cached entries so they are reloaded from storage
type Purger interface {
	Purge()
}

// nameCache layers an LRU, an optional shared Store and a storage loader
type nameCache[V any] struct {
	name   string
	logger *zap.Logger
	lru    *LRU[int, V]
	store  Store
	ttl    time.Duration
	load   func(ctx context.Context, id int) (*V, error)
}

func (c *nameCache[V]) get(ctx context.Context, id int) (V, bool) {
	if value, ok := c.lru.Get(id); ok {
		metrics.ObserveCacheLookup(c.name, true)
		return value, true
	}
	metrics.ObserveCacheLookup(c.name, false)

	value, found, err := c.lru.GetOrLoad(id, func() (V, bool, error) {
		return c.fetch(ctx, id)
	})
	if err != nil {
		c.logger.Error("Cache lookup failed",
			zap.String("cache", c.name),
			zap.Int("id", id),
			zap.Error(err))
		return value, false
	}
	return value, found
}

func (c *nameCache[V]) fetch(ctx context.Context, id int) (V, bool, error) {
	var zero V
	key := fmt.Sprintf("%s:%d", c.name, id)

	if c.store != nil {
		raw, err := c.store.Get(ctx, key)
		switch {
		case err == nil:
			var value V
			if err := json.Unmarshal([]byte(raw), &value); err == nil {
				return value, true, nil
			}
			c.logger.Warn("Dropping malformed shared cache entry", zap.String("key", key))
		case !errors.Is(err, ErrCacheMiss):
			c.logger.Warn("Shared cache unavailable", zap.String("key", key), zap.Error(err))
		}
	}

	loaded, err := c.load(ctx, id)
	if err != nil {
		return zero, false, err
	}
	if loaded == nil {
		return zero, false, nil
	}

	if c.store != nil {
		if data, err := json.Marshal(loaded); err == nil {
			if err := c.store.Set(ctx, key, string(data), c.ttl); err != nil {
				c.logger.Warn("Failed to fill shared cache", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return *loaded, true, nil
}

// Purge implements Purger
func (c *nameCache[V]) Purge() {
	c.lru.Purge()
}

// ApplicationCacheService implements ApplicationCache
type ApplicationCacheService struct {
	*nameCache[model.Application]
}

// NewApplicationCache creates an application cache of the given size.
// store may be nil.
func NewApplicationCache(logger *zap.Logger, dao storage.ApplicationDAO, size int, store Store, ttl time.Duration) *ApplicationCacheService {
	return &ApplicationCacheService{&nameCache[model.Application]{
		name:   "application",
		logger: logger,
		lru:    NewLRU[int, model.Application](size),
		store:  store,
		ttl:    ttl,
		load:   dao.Get,
	}}
}

// GetApplicationByID implements ApplicationCache
func (c *ApplicationCacheService) GetApplicationByID(ctx context.Context, id int) (model.Application, bool) {
	return c.get(ctx, id)
}

// ServiceNameCacheService implements ServiceNameCache
type ServiceNameCacheService struct {
	*nameCache[model.ServiceName]
}

// NewServiceNameCache creates a service name cache of the given size.
// store may be nil.
func NewServiceNameCache(logger *zap.Logger, dao storage.ServiceNameDAO, size int, store Store, ttl time.Duration) *ServiceNameCacheService {
	return &ServiceNameCacheService{&nameCache[model.ServiceName]{
		name:   "service_name",
		logger: logger,
		lru:    NewLRU[int, model.ServiceName](size),
		store:  store,
		ttl:    ttl,
		load:   dao.Get,
	}}
}

// Get implements ServiceNameCache
func (c *ServiceNameCacheService) Get(ctx context.Context, id int) (model.ServiceName, bool) {
	return c.get(ctx, id)
}
