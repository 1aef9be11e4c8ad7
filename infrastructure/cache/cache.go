// Package cache provides bounded TTL caches with read-through into the
// document store and single-flight computation for expensive refreshes.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/singleflight"

	"github.com/R3E-Network/integration_layer/infrastructure/errors"
)

// Config bounds one named cache.
type Config struct {
	TTL     time.Duration
	MaxSize int
}

// DefaultConfig returns the bounds used when a cache is not tuned
// explicitly.
func DefaultConfig() Config {
	return Config{
		TTL:     5 * time.Minute,
		MaxSize: 1000,
	}
}

type entry[V any] struct {
	value      V
	expiration time.Time
}

// Cache is a bounded (key → value) mapping with per-entry TTL. Eviction is
// by size or time, whichever trips first.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	config  Config
	group   singleflight.Group
}

// New creates a cache with the given bounds, falling back to defaults for
// zero values.
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	return &Cache[K, V]{
		entries: make(map[K]entry[V]),
		config:  cfg,
	}
}

// Get returns the cached value when present and unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiration) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Insert stores a value under the configured TTL, evicting the entry closest
// to expiry when the cache is full.
func (c *Cache[K, V]) Insert(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = entry[V]{
		value:      value,
		expiration: time.Now().Add(c.config.TTL),
	}
}

func (c *Cache[K, V]) evictOldestLocked() {
	var (
		oldestKey K
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.expiration.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.expiration, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Remove drops a key.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Size returns the number of stored entries, expired or not.
func (c *Cache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ReadStore is the slice of the document store the read-through path needs.
type ReadStore[V any] interface {
	GetOne(ctx context.Context, filter bson.M) (*V, error)
}

// GetOrInsertWithFilter probes the cache and falls through to the store on
// miss. A store miss surfaces NotFound without poisoning the cache.
func GetOrInsertWithFilter[K comparable, V any](ctx context.Context, c *Cache[K, V], key K, store ReadStore[V], filter bson.M) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	var zero V
	record, err := store.GetOne(ctx, filter)
	if err != nil {
		return zero, err
	}
	if record == nil {
		return zero, errors.NotFound("record", fmt.Sprintf("%v", key))
	}

	c.Insert(key, *record)
	return *record, nil
}

// GetOrInsertWithFn computes the value on miss. Concurrent callers for the
// same key coalesce onto a single in-flight computation; everyone receives
// the same result. Used where the source of truth is a remote call rather
// than the store, e.g. OAuth refresh.
func (c *Cache[K, V]) GetOrInsertWithFn(ctx context.Context, key K, fn func(ctx context.Context) (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	flightKey := fmt.Sprintf("%v", key)
	result, err, _ := c.group.Do(flightKey, func() (any, error) {
		if value, ok := c.Get(key); ok {
			return value, nil
		}
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.Insert(key, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}
