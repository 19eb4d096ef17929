package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/Domenick1991/airreserve/internal/metrics"
	"github.com/google/uuid"
)

const redisDriver = "redis"

// Store is the subset of the Redis cache used for distributed locks.
type Store interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
}

// RedisLocker holds locks across processes. A lock expires after ttl even
// if its holder dies, so ttl must exceed the longest critical section.
type RedisLocker struct {
	store       Store
	ttl         time.Duration
	retryDelay  time.Duration
	maxAttempts int
	newToken    func() string
	logger      *slog.Logger
}

type RedisLockerOption func(*RedisLocker)

func WithTokenGenerator(fn func() string) RedisLockerOption {
	return func(l *RedisLocker) {
		l.newToken = fn
	}
}

func WithLogger(logger *slog.Logger) RedisLockerOption {
	return func(l *RedisLocker) {
		l.logger = logger
	}
}

// NewRedisLocker polls every retryDelay until wait has elapsed.
func NewRedisLocker(store Store, ttl, wait, retryDelay time.Duration, opts ...RedisLockerOption) *RedisLocker {
	if retryDelay <= 0 {
		retryDelay = 25 * time.Millisecond
	}
	attempts := int(wait/retryDelay) + 1
	l := &RedisLocker{
		store:       store,
		ttl:         ttl,
		retryDelay:  retryDelay,
		maxAttempts: attempts,
		newToken:    uuid.NewString,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	token := l.newToken()
	started := time.Now()

	for attempt := 1; ; attempt++ {
		ok, err := l.store.AcquireLock(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			metrics.LockAcquired(redisDriver, time.Since(started))
			return l.unlocker(key, token), nil
		}
		if attempt >= l.maxAttempts {
			metrics.LockContended(redisDriver)
			return nil, domain.Contention(key, errors.New("lock held elsewhere"))
		}

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) unlocker(key, token string) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			released, err := l.store.ReleaseLock(ctx, key, token)
			if err != nil {
				l.logger.Error("release lock failed", "key", key, "error", err)
				return
			}
			if !released {
				l.logger.Warn("lock expired before release", "key", key)
			}
		})
	}
}

var _ Locker = (*RedisLocker)(nil)
