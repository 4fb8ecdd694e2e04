package services

import (
	"context"
	"fmt"
	"time"

	"campus-ticket/internal/status"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker serializes work on one key across processes.
type Locker interface {
	// Acquire returns status.ErrLockHeld when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

const lockPrefix = "reconcile:lock:"

// releaseScript deletes the lock only while it still carries our token, so an
// expired lock taken over by another worker is left alone.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type RedisLocker struct {
	redis  redis.Cmdable
	token  func() string
	logger *zap.Logger
}

func NewRedisLocker(client redis.Cmdable, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		redis:  client,
		token:  uuid.NewString,
		logger: logger.Named("lock"),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	redisKey := lockPrefix + key
	token := l.token()

	ok, err := l.redis.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, status.ErrLockHeld
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()

		if err := l.redis.Eval(ctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", zap.String("key", redisKey), zap.Error(err))
		}
	}
	return release, nil
}
