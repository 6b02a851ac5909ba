package runlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisLockKey     = "forumpilot:runlock"
	redisDialTimeout = 3 * time.Second
)

// RedisLocker implements Locker with SET NX and a TTL, for deployments
// where multiple hosts could otherwise race on the same account. The TTL
// bounds the damage of a crashed holder; a live run must finish within it.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker connects to the given redis URL and verifies the
// connection up front, so a misconfigured URL fails at startup and not at
// the first scheduled run.
func NewRedisLocker(rawURL string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("redis lock: parse url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis lock: ping: %w", err)
	}

	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLocker{client: client, key: redisLockKey, ttl: ttl}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis locker is not initialized")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock: acquire: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Delete only our own token so an expired-and-reacquired lock is
		// never released by the previous holder.
		ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
		defer cancel()
		current, err := l.client.Get(ctx, l.key).Result()
		if err == nil && current == token {
			_ = l.client.Del(ctx, l.key).Err()
		}
	}, nil
}

// Close releases the underlying connection pool.
func (l *RedisLocker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
