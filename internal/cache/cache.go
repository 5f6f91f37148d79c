// Package cache keeps the most recently extracted products per site so they
// can be displayed and exported after the page is gone. The extraction flow is
// the only writer.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/site"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("no cached products")

type ProductCache interface {
	Put(ctx context.Context, s site.Site, products []models.Product) error
	Get(ctx context.Context, s site.Site) ([]models.Product, error)
	Clear(ctx context.Context, s site.Site) error
}

func Key(s site.Site) string {
	return "webscout:products:" + s.String()
}

// Memory stores copies, so neither the writer nor any reader can change what
// others see.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]models.Product
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]models.Product)}
}

func (c *Memory) Put(_ context.Context, s site.Site, products []models.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[Key(s)] = models.CloneAll(products)
	return nil
}

func (c *Memory) Get(_ context.Context, s site.Site) ([]models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	products, ok := c.entries[Key(s)]
	if !ok {
		return nil, ErrCacheMiss
	}
	return models.CloneAll(products), nil
}

func (c *Memory) Clear(_ context.Context, s site.Site) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, Key(s))
	return nil
}

type KVClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis stores the product list as one JSON value per site.
type Redis struct {
	client KVClient
	ttl    time.Duration
}

// NewRedis creates a redis backed cache. A zero ttl keeps entries until they
// are replaced.
func NewRedis(client KVClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (c *Redis) Put(ctx context.Context, s site.Site, products []models.Product) error {
	if products == nil {
		products = []models.Product{}
	}
	data, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("failed to encode products: %w", err)
	}
	if err := c.client.Set(ctx, Key(s), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache products: %w", err)
	}
	return nil
}

func (c *Redis) Get(ctx context.Context, s site.Site) ([]models.Product, error) {
	data, err := c.client.Get(ctx, Key(s)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached products: %w", err)
	}

	var products []models.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to decode cached products: %w", err)
	}
	return products, nil
}

func (c *Redis) Clear(ctx context.Context, s site.Site) error {
	if err := c.client.Del(ctx, Key(s)).Err(); err != nil {
		return fmt.Errorf("failed to clear cached products: %w", err)
	}
	return nil
}
