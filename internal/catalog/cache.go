package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/resilience"
)

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// CachedCatalog serves product snapshots from Redis before hitting the source.
type CachedCatalog struct {
	Source Catalog
	Cache  *Cache
	// Breaker skips the cache while Redis keeps failing. Nil always tries it.
	Breaker *resilience.Breaker
	Logger  *zerolog.Logger
}

// Product implements Catalog. Cache failures degrade to the source; cached
// entries that no longer validate are ignored.
func (c CachedCatalog) Product(ctx context.Context, id string) (Product, error) {
	key := productCacheKey(id)
	useCache := true
	var cached Product
	var hit bool
	err := c.Breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		hit, err = c.Cache.GetJSON(ctx, key, &cached)
		return err
	})
	if err != nil {
		useCache = false
		if !errors.Is(err, resilience.ErrOpenCircuit) {
			c.warn(err, id, "read product cache")
		}
	}
	if hit && cached.Policy.Validate() == nil {
		return cached, nil
	}
	p, err := c.Source.Product(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if useCache {
		err = c.Breaker.Do(ctx, func(ctx context.Context) error {
			return c.Cache.SetJSON(ctx, key, p)
		})
		if err != nil && !errors.Is(err, resilience.ErrOpenCircuit) {
			c.warn(err, id, "write product cache")
		}
	}
	return p, nil
}

func (c CachedCatalog) warn(err error, id, msg string) {
	if c.Logger == nil {
		return
	}
	c.Logger.Warn().Err(err).Str("product_id", id).Msg(msg)
}

func productCacheKey(id string) string {
	return "catalog:products:detail:" + id
}
