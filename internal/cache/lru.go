package cache

import (
	"container/list"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// LRU is a bounded least-recently-used map. Concurrent loads of the same
// missing key are collapsed into one.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[K]*list.Element
	flight   singleflight.Group
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

type loadResult[V any] struct {
	value V
	found bool
}

// NewLRU creates an LRU holding at most capacity entries. A capacity
// below one is treated as one.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[K]*list.Element),
	}
}

// Get returns the cached value and marks it most recently used
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.ll.MoveToFront(elem)
		return elem.Value.(*lruEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Add inserts or replaces a value, evicting the least recently used
// entry when full
func (c *LRU[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.ll.MoveToFront(elem)
		elem.Value.(*lruEntry[K, V]).value = value
		return
	}

	for c.ll.Len() >= c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry[K, V]).key)
	}
	c.items[key] = c.ll.PushFront(&lruEntry[K, V]{key: key, value: value})
}

// GetOrLoad returns the cached value or calls load once for all
// concurrent callers of a missing key. Found values are cached.
func (c *LRU[K, V]) GetOrLoad(key K, load func() (V, bool, error)) (V, bool, error) {
	if value, ok := c.Get(key); ok {
		return value, true, nil
	}

	result, err, _ := c.flight.Do(fmt.Sprint(key), func() (interface{}, error) {
		if value, ok := c.Get(key); ok {
			return loadResult[V]{value: value, found: true}, nil
		}
		value, found, err := load()
		if err != nil {
			return nil, err
		}
		if found {
			c.Add(key, value)
		}
		return loadResult[V]{value: value, found: found}, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}

	r := result.(loadResult[V])
	return r.value, r.found, nil
}

// Purge drops every entry
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[K]*list.Element)
}

// Len returns the number of cached entries
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
