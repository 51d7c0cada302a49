package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// RedisStore keeps locks in Redis so every webhook process shares them.
type RedisStore struct {
	pool *redis.Pool
}

func NewRedisStore(pool *redis.Pool) *RedisStore {
	return &RedisStore{pool: pool}
}

// NewRedisPool dials addr lazily. url may be "redis://[:password@]host:port/db".
func NewRedisPool(url string, maxActive int) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     maxActive,
		MaxActive:   maxActive,
		IdleTimeout: 4 * time.Minute,
		Wait:        true,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, url)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	rc, err := r.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("redis conn: %w", err)
	}
	defer rc.Close()

	_, err = redis.String(redis.DoContext(rc, ctx, "SET", key, value, "NX", "PX", ttl.Milliseconds()))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis set %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	rc, err := r.pool.GetContext(ctx)
	if err != nil {
		return "", false, fmt.Errorf("redis conn: %w", err)
	}
	defer rc.Close()

	v, err := redis.String(redis.DoContext(rc, ctx, "GET", key))
	if errors.Is(err, redis.ErrNil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	rc, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis conn: %w", err)
	}
	defer rc.Close()

	if _, err := redis.DoContext(rc, ctx, "DEL", key); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
