// Package cache is the namespaced key/value gateway used for ESI meta documents.
//
// Every entry expires at the next 11:30 local time, which is when ESI rolls its
// own daily data. Keys are built from a fixed prefix, the namespace and an MD5
// digest of the subkey, so unbounded subkeys (request URLs carrying a
// compatibility date) map to fixed-width keys.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/esistatus/internal/metrics"
)

const keyPrefix = "esi:meta"

// Daily refresh boundary
const (
	refreshHour   = 11
	refreshMinute = 30
)

var (
	// ErrInvalidNamespace is returned when a cache is built with an empty namespace
	ErrInvalidNamespace = errors.New("cache namespace must be a non-empty string")
	// ErrInvalidKey is returned for an empty subkey
	ErrInvalidKey = errors.New("cache subkey must be a non-empty string")
)

// Store is the raw backend behind a Cache
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache is a namespaced view over a Store
type Cache struct {
	namespace string
	store     Store
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures a Cache
type Option func(*Cache)

// WithClock overrides the wall clock used for TTL calculation
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger used for cache debug output
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a cache handle for namespace. An empty or whitespace-only
// namespace is a configuration error and fails immediately.
func New(namespace string, store Store, opts ...Option) (*Cache, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, ErrInvalidNamespace
	}
	if store == nil {
		return nil, fmt.Errorf("cache %q: store is required", namespace)
	}

	c := &Cache{
		namespace: namespace,
		store:     store,
		now:       time.Now,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Namespace returns the namespace this handle writes under
func (c *Cache) Namespace() string {
	return c.namespace
}

// Key returns the backend key for subkey
func (c *Cache) Key(subkey string) (string, error) {
	if strings.TrimSpace(subkey) == "" {
		return "", ErrInvalidKey
	}

	sum := md5.Sum([]byte(subkey))
	return keyPrefix + ":" + c.namespace + ":" + hex.EncodeToString(sum[:]), nil
}

// Get decodes the cached value for subkey into dst. The boolean is false on a miss.
func (c *Cache) Get(ctx context.Context, subkey string, dst any) (bool, error) {
	key, err := c.Key(subkey)
	if err != nil {
		return false, err
	}

	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		metrics.RecordCacheLookup(c.namespace, "error")
		return false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}
	if !found {
		metrics.RecordCacheLookup(c.namespace, "miss")
		c.logger.Debug().Str("namespace", c.namespace).Str("key", key).Msg("Cache miss")
		return false, nil
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		metrics.RecordCacheLookup(c.namespace, "error")
		return false, fmt.Errorf("failed to decode cache key %s: %w", key, err)
	}

	metrics.RecordCacheLookup(c.namespace, "hit")
	c.logger.Debug().Str("namespace", c.namespace).Str("key", key).Msg("Cache hit")
	return true, nil
}

// Set stores value under subkey until the next refresh boundary
func (c *Cache) Set(ctx context.Context, subkey string, value any) error {
	key, err := c.Key(subkey)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}

	now := c.now()
	ttl := TTL(now)
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		metrics.RecordCacheWrite(c.namespace, "error")
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}

	metrics.RecordCacheWrite(c.namespace, "success")
	c.logger.Debug().
		Str("namespace", c.namespace).
		Str("key", key).
		Int64("ttl_seconds", int64(ttl/time.Second)).
		Str("expires", humanize.RelTime(now.Add(ttl), now, "ago", "from now")).
		Msg("Cache entry stored")

	return nil
}

// TTL returns the time until the next 11:30 in now's location, rounded up to
// whole seconds. At exactly 11:30 the boundary rolls over to the next day.
func TTL(now time.Time) time.Duration {
	target := time.Date(now.Year(), now.Month(), now.Day(), refreshHour, refreshMinute, 0, 0, now.Location())
	if !now.Before(target) {
		target = target.AddDate(0, 0, 1)
	}

	seconds := math.Ceil(target.Sub(now).Seconds())
	return time.Duration(seconds) * time.Second
}
