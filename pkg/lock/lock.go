package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewRedisLocker),
)

// Handle releases a lock obtained through Locker.TryLock.
type Handle interface {
	Unlock(ctx context.Context) error
}

// Locker hands out cluster-wide exclusive locks.
type Locker interface {
	// TryLock makes a single attempt. ok is false when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (h Handle, ok bool, err error)
}

type RedisLocker struct {
	rs *redsync.Redsync
}

func NewRedisLocker(rdb *redis.Client) Locker {
	return &RedisLocker{rs: redsync.New(goredis.NewPool(rdb))}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Handle, bool, error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			zap.L().Debug("[Lock] lock already held", zap.String("key", key))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	return &handle{mutex: mutex}, true, nil
}

func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}

type handle struct {
	mutex *redsync.Mutex
}

func (h *handle) Unlock(ctx context.Context) error {
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock %s was not held at unlock", h.mutex.Name())
	}
	return nil
}
