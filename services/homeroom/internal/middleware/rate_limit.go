package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang/groupcache/lru"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int // seconds
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

const rateLimitLuaScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'updated_at')
local tokens = tonumber(bucket[1])
local updated_at = tonumber(bucket[2])

if tokens == nil or updated_at == nil then
    tokens = capacity
    updated_at = now
end

local elapsed = math.max(0, now - updated_at)
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
local retry_after = 0

if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
else
    retry_after = (requested - tokens) / rate
end

redis.call('HMSET', key, 'tokens', tokens, 'updated_at', now)
redis.call('EXPIRE', key, 86400)

return {allowed, math.floor(tokens), math.ceil(retry_after)}
`

var rateLimitScript = redis.NewScript(rateLimitLuaScript)

// RedisLimiter is a token bucket shared by every instance through redis.
type RedisLimiter struct {
	client   *redis.Client
	prefix   string
	capacity int
	rate     float64
	now      func() time.Time
}

func NewRedisLimiter(client *redis.Client, prefix string, qps, burst int) *RedisLimiter {
	if burst <= 0 {
		burst = 2 * qps
	}
	return &RedisLimiter{client: client, prefix: prefix, capacity: burst, rate: float64(qps), now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := float64(l.now().UnixNano()) / 1e9
	result, err := rateLimitScript.Run(ctx, l.client, []string{l.prefix + "rate_limit:" + key},
		l.capacity, l.rate, now, 1).Result()
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Limit: l.capacity, Remaining: l.capacity}
	if arr, ok := result.([]any); ok && len(arr) >= 3 {
		if v, ok := arr[0].(int64); ok {
			d.Allowed = v == 1
		}
		if v, ok := arr[1].(int64); ok {
			d.Remaining = int(v)
		}
		if v, ok := arr[2].(int64); ok {
			d.RetryAfter = int(v)
		}
	}
	return d, nil
}

// LocalLimiter keeps one in-process bucket per key for the most recently
// seen keys.
type LocalLimiter struct {
	mu    sync.Mutex
	cache *lru.Cache
	limit rate.Limit
	burst int
}

func NewLocalLimiter(qps, burst, maxKeys int) *LocalLimiter {
	if burst <= 0 {
		burst = 2 * qps
	}
	if maxKeys <= 0 {
		maxKeys = 4096
	}
	return &LocalLimiter{cache: lru.New(maxKeys), limit: rate.Limit(qps), burst: burst}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lim *rate.Limiter
	if v, ok := l.cache.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.cache.Add(key, lim)
	}

	now := time.Now()
	d := Decision{Limit: l.burst}
	if lim.AllowN(now, 1) {
		d.Allowed = true
		d.Remaining = int(lim.TokensAt(now))
		return d, nil
	}
	r := lim.ReserveN(now, 1)
	d.RetryAfter = int(math.Ceil(r.DelayFrom(now).Seconds()))
	r.CancelAt(now)
	return d, nil
}

// RateLimit rejects callers over their budget with 429. Limiter failures
// let the request through.
func RateLimit(l Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable, letting request through", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		if !d.Allowed {
			if d.RetryAfter < 1 {
				d.RetryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(d.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests, please slow down",
			})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Next()
	}
}
