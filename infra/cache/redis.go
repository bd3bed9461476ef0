package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-redis/redis/v8"

	"homeroom/config"
)

var ErrCacheMiss = errors.New("cache miss")

func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Options tune the lock protected loader.
type Options struct {
	TTL         time.Duration
	JitterSec   int
	LockTTL     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

func OptionsFrom(cfg config.RedisConfig) Options {
	return Options{
		TTL:         cfg.CacheTTL,
		JitterSec:   cfg.CacheJitterSec,
		LockTTL:     cfg.LockTTL,
		MaxAttempts: cfg.LockMaxAttempts,
		Backoff:     cfg.LockBackoff,
	}
}

type RedisCache struct {
	client *redis.Client
	prefix string
	opts   Options
}

func NewRedisCache(client *redis.Client, prefix string, opts Options) *RedisCache {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	return &RedisCache{client: client, prefix: prefix, opts: opts}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return data, err
}

func (r *RedisCache) Set(ctx context.Context, key string, data []byte) error {
	return r.client.Set(ctx, r.prefix+key, data, r.ttl()).Err()
}

// GetWithProtection reads key, and on a miss lets a single caller run loader
// while the others poll for its result. Redis errors degrade to calling
// loader directly.
func (r *RedisCache) GetWithProtection(ctx context.Context, key string, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	data, err := r.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return loader(ctx)
	}

	lockKey := r.prefix + "lock:" + key
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		locked, err := r.client.SetNX(ctx, lockKey, "1", r.opts.LockTTL).Result()
		if err != nil {
			return loader(ctx)
		}
		if locked {
			defer r.client.Del(context.Background(), lockKey)

			data, err = loader(ctx)
			if err != nil {
				return nil, err
			}
			if err := r.Set(ctx, key, data); err != nil {
				return data, err
			}
			return data, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.opts.Backoff):
		}
		if data, err = r.Get(ctx, key); err == nil {
			return data, nil
		}
	}

	return loader(ctx)
}

// ttl spreads expirations so cached entries do not all lapse together.
func (r *RedisCache) ttl() time.Duration {
	if r.opts.JitterSec <= 0 {
		return r.opts.TTL
	}
	return r.opts.TTL + time.Duration(rand.Intn(r.opts.JitterSec))*time.Second
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
