package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores holiday answers keyed by YYYYMMDD.
type Cache interface {
	Get(ctx context.Context, day string) (holiday bool, found bool, err error)
	Set(ctx context.Context, day string, holiday bool, ttl time.Duration) error
}

type memEntry struct {
	holiday bool
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memEntry{}, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, day string) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[day]
	if !ok {
		return false, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, day)
		return false, false, nil
	}
	return e.holiday, true, nil
}

func (c *MemoryCache) Set(_ context.Context, day string, holiday bool, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memEntry{holiday: holiday}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[day] = e
	return nil
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// RedisCache shares answers between instances.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(cfg RedisConfig) *RedisCache {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
			MaxRetries:   -1,
		}),
	}
}

func (c *RedisCache) Get(ctx context.Context, day string) (bool, bool, error) {
	v, err := c.client.Get(ctx, redisKey(day)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil
		}
		return false, false, err
	}
	return v == "1", true, nil
}

func (c *RedisCache) Set(ctx context.Context, day string, holiday bool, ttl time.Duration) error {
	v := "0"
	if holiday {
		v = "1"
	}
	return c.client.Set(ctx, redisKey(day), v, ttl).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

func redisKey(day string) string { return "subwaybot:holiday:" + day }
