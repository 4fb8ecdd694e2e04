package security

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter is a fixed-window request counter kept in Redis so every
// instance shares the same budget.
type RateLimiter struct {
	redis  redis.Cmdable
	limit  int64
	window time.Duration
	logger *zap.Logger
}

func NewRateLimiter(client redis.Cmdable, limit int, window time.Duration, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		limit:  int64(limit),
		window: window,
		logger: logger.Named("ratelimit"),
	}
}

// Allow counts one request against key. The counter and its window expiry
// are written in one MULTI/EXEC; EXPIRE NX leaves a running window alone.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := "ratelimit:" + key

	var count *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, r.window)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return count.Val() <= r.limit, nil
}

// Middleware limits requests per authenticated user, or per client IP for
// anonymous callers. Redis failures let the request through.
func (r *RateLimiter) Middleware(scope string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		id := "ip:" + ClientIP(e)
		if e.Auth != nil {
			id = "user:" + e.Auth.Id
		}

		ok, err := r.Allow(e.Request.Context(), scope+":"+id)
		if err != nil {
			r.logger.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			return e.Next()
		}
		if !ok {
			e.Response.Header().Set("Retry-After", fmt.Sprintf("%d", int(r.window.Seconds())))
			return e.JSON(http.StatusTooManyRequests, map[string]string{
				"error":  "Too many requests",
				"reason": "slow down and try again shortly",
			})
		}
		return e.Next()
	}
}

// ClientIP honours the app's trusted proxy headers when an app is attached.
func ClientIP(e *core.RequestEvent) string {
	if e.App != nil {
		return e.RealIP()
	}
	return e.RemoteIP()
}

// AntiBot rejects clients that announce themselves as crawlers.
func AntiBot(e *core.RequestEvent) error {
	if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
		return e.JSON(http.StatusForbidden, map[string]string{
			"error": "Access denied",
		})
	}
	return e.Next()
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
