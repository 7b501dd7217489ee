package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrCacheMiss is returned by Get when the key is absent or caching is off.
var ErrCacheMiss = errors.New("cache miss")

// Versioned values carry a monotonically increasing version. A cached value
// is never replaced by one with a lower version.
type Versioned interface {
	CacheVersion() int64
}

// storeNewer writes the payload and its version unless a newer version is
// already cached. KEYS: value, version. ARGV: version, payload, ttl in ms.
var storeNewer = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
if current > tonumber(ARGV[1]) then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
	redis.call('SET', KEYS[2], ARGV[1], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[2])
	redis.call('SET', KEYS[2], ARGV[1])
end
return 1
`)

// HitRecorder receives cache hit/miss observations.
type HitRecorder interface {
	ObserveCacheLookup(hit bool)
}

// Cache is a JSON read-through cache over Redis. A nil client disables
// caching; every Fetch then loads from the source.
type Cache struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	logger  *zap.Logger
	metrics HitRecorder
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records hits and misses.
func WithMetrics(m HitRecorder) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// New creates a cache. client may be nil.
func New(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{client: client, ttl: ttl, logger: logger, prefix: "registry:"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Get reads key into dest.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if !c.Enabled() {
		return ErrCacheMiss
	}
	raw, err := c.client.Get(ctx, c.valueKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set stores value under key for the configured TTL. A Versioned value is
// skipped when the cache already holds a newer version.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	if !c.Enabled() {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	return c.setRaw(ctx, key, payload, versionOf(value))
}

func (c *Cache) setRaw(ctx context.Context, key string, payload []byte, version int64) error {
	if version <= 0 {
		if err := c.client.Set(ctx, c.valueKey(key), payload, c.ttl).Err(); err != nil {
			return fmt.Errorf("redis set %s: %w", key, err)
		}
		return nil
	}
	keys := []string{c.valueKey(key), c.versionKey(key)}
	if err := storeNewer.Run(ctx, c.client, keys, version, payload, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		full = append(full, c.valueKey(k), c.versionKey(k))
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// The hash tag keeps a value and its version in one cluster slot.
func (c *Cache) valueKey(key string) string   { return c.prefix + "{" + key + "}" }
func (c *Cache) versionKey(key string) string { return c.prefix + "{" + key + "}:version" }

func versionOf(value any) int64 {
	if v, ok := value.(Versioned); ok {
		return v.CacheVersion()
	}
	return 0
}

// Fetch reads key into dest, calling load on a miss. Concurrent misses for the
// same key share one load. Cache errors degrade to a direct load. A loaded
// Versioned value never overwrites a newer one written meanwhile.
func (c *Cache) Fetch(ctx context.Context, key string, dest any, load func(ctx context.Context) (any, error)) error {
	if !c.Enabled() {
		return c.loadInto(ctx, dest, load)
	}

	err := c.Get(ctx, key, dest)
	if err == nil {
		c.observe(true)
		return nil
	}
	c.observe(false)
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("Cache read failed, loading from source", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal cache value for %s: %w", key, err)
		}
		if err := c.setRaw(ctx, key, payload, versionOf(value)); err != nil {
			c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		}
		return payload, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), dest)
}

func (c *Cache) loadInto(ctx context.Context, dest any, load func(ctx context.Context) (any, error)) error {
	value, err := load(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dest)
}

func (c *Cache) observe(hit bool) {
	if c.metrics != nil {
		c.metrics.ObserveCacheLookup(hit)
	}
}
