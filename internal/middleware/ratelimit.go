package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/config"
)

// takeScript refills continuously at ARGV[2] tokens per millisecond and
// takes one token.  The bucket hash keeps the fractional level in "level"
// and the last update in "at"; both are strings to keep full precision.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call('HMGET', KEYS[1], 'level', 'at')
local level = tonumber(bucket[1]) or capacity
local at = tonumber(bucket[2]) or now
if now > at then
  level = math.min(capacity, level + (now - at) * per_ms)
end

local granted = 0
local wait_ms = 0
if level >= 1 then
  granted = 1
  level = level - 1
elseif per_ms > 0 then
  wait_ms = math.ceil((1 - level) / per_ms)
end

redis.call('HSET', KEYS[1], 'level', string.format('%.6f', level), 'at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {granted, math.floor(level), wait_ms}
`)

const defaultKeyStrategy = "ip_user_route"

// keyParts are the request attributes a key strategy can combine, e.g.
// "ip_room" keys each reader address per fitting room.
var keyParts = map[string]func(c echo.Context) string{
	"ip": func(c echo.Context) string {
		if ip := c.RealIP(); ip != "" {
			return ip
		}
		return "unknown"
	},
	"user":  userID,
	"route": func(c echo.Context) string { return c.Request().Method + " " + c.Path() },
	"room": func(c echo.Context) string {
		if id := c.Param("id"); id != "" {
			return id
		}
		return "-"
	},
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// TokenBucket is a Redis-backed token bucket shared by every replica.
type TokenBucket struct {
	rdb    *redis.Client
	cfg    config.RateLimitConfig
	perMs  float64
	logger *zap.Logger
	now    func() time.Time
}

// NewTokenBucketLimiter returns a TokenBucket for cfg.  Capacity and
// refill settings are clamped to at least one token per interval.
func NewTokenBucketLimiter(cfg config.RateLimitConfig, rdb *redis.Client, logger *zap.Logger) *TokenBucket {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillTokens < 1 {
		cfg.RefillTokens = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	if cfg.TTL < cfg.RefillInterval {
		cfg.TTL = cfg.RefillInterval
	}
	return &TokenBucket{
		rdb:    rdb,
		cfg:    cfg,
		perMs:  float64(cfg.RefillTokens) / float64(cfg.RefillInterval.Milliseconds()),
		logger: logger,
		now:    time.Now,
	}
}

// Take removes one token from the bucket at key.
func (b *TokenBucket) Take(ctx context.Context, key string) (Decision, error) {
	args := []interface{}{
		b.cfg.Capacity,
		strconv.FormatFloat(b.perMs, 'f', -1, 64),
		b.now().UnixMilli(),
		b.cfg.TTL.Milliseconds(),
	}
	vals, err := takeScript.Run(ctx, b.rdb, []string{key}, args...).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(vals) != 3 {
		return Decision{}, errors.New("rate limiter: malformed script reply")
	}
	return Decision{
		Allowed:    vals[0] == 1,
		Remaining:  vals[1],
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// Key derives the bucket key of a request from the configured strategy.
// Unknown strategy names fall back to ip_user_route.
func (b *TokenBucket) Key(c echo.Context) string {
	return rateKey(b.cfg.Prefix, b.cfg.KeyStrategy, c)
}

// Middleware rejects requests over the limit with 429.  Redis errors fail
// open: the request passes and the error is logged.
func (b *TokenBucket) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := b.Key(c)
		d, err := b.Take(c.Request().Context(), key)
		if err != nil {
			b.logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			return next(c)
		}
		h := c.Response().Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(b.cfg.Capacity))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		if b.cfg.Debug {
			h.Set("X-RateLimit-Key", key)
		}
		if d.Allowed {
			return next(c)
		}
		secs := int(math.Ceil(d.RetryAfter.Seconds()))
		h.Set("Retry-After", strconv.Itoa(secs))
		if b.cfg.Debug {
			b.logger.Debug("rate limited", zap.String("key", key), zap.Duration("retry_after", d.RetryAfter))
		}
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error":       "too_many_requests",
			"message":     "rate limit exceeded",
			"retry_after": secs,
		})
	}
}

// NewTokenBucket returns the limiter as echo middleware.  Scan endpoints sit
// behind it so a stuck reader cannot flood the store.  A disabled limiter or
// a missing Redis client passes every request.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, logger *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return NewTokenBucketLimiter(cfg, rdb, logger).Middleware
}

func rateKey(prefix, strategy string, c echo.Context) string {
	strategy = strings.ToLower(strings.TrimSpace(strategy))
	if strategy == "" {
		strategy = defaultKeyStrategy
	}
	parts := []string{prefix}
	for _, name := range strings.Split(strategy, "_") {
		if part, ok := keyParts[name]; ok {
			parts = append(parts, name, part(c))
		}
	}
	if len(parts) == 1 && strategy != defaultKeyStrategy {
		return rateKey(prefix, defaultKeyStrategy, c)
	}
	return strings.Join(parts, ":")
}
