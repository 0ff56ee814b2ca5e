package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/pkg/config"
)

// Compile-time check to ensure RedisBackend implements Backend
var _ Backend = (*RedisBackend)(nil)

// RedisBackend is the durable Backend. It reports itself unavailable from the
// first connection error until a ping succeeds again.
type RedisBackend struct {
	client    *redis.Client
	logger    *zap.Logger
	available atomic.Bool
}

// NewRedisClient builds a client whose failures surface quickly, so the store
// can switch to memory instead of stalling ingestion on retries.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

func NewRedisBackend(client *redis.Client, logger *zap.Logger) *RedisBackend {
	return &RedisBackend{client: client, logger: logger}
}

func (r *RedisBackend) Available() bool { return r.available.Load() }

// Probe pings Redis and records the outcome.
func (r *RedisBackend) Probe(ctx context.Context) bool {
	err := r.client.Ping(ctx).Err()
	r.setAvailable(err == nil, err)
	return err == nil
}

// Monitor probes Redis every interval until ctx is done.
func (r *RedisBackend) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			r.Probe(probeCtx)
			cancel()
		}
	}
}

func (r *RedisBackend) setAvailable(ok bool, cause error) {
	if prev := r.available.Swap(ok); prev == ok {
		return
	}
	if ok {
		r.logger.Info("Redis available, serving prices from Redis")
	} else {
		r.logger.Warn("Redis unavailable, serving prices from memory", zap.Error(cause))
	}
}

// wrap classifies err: replies from the server pass through, anything else
// means the connection is gone.
func (r *RedisBackend) wrap(err error) error {
	var reply redis.Error
	if errors.As(err, &reply) {
		return fmt.Errorf("redis: %w", err)
	}
	r.setAvailable(false, err)
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, r.wrap(err)
	}
	return val, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return r.wrap(err)
	}
	return nil
}

func (r *RedisBackend) PushLeft(ctx context.Context, key string, value []byte) error {
	if err := r.client.LPush(ctx, key, value).Err(); err != nil {
		return r.wrap(err)
	}
	return nil
}

func (r *RedisBackend) Trim(ctx context.Context, key string, start, stop int64) error {
	if err := r.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return r.wrap(err)
	}
	return nil
}

func (r *RedisBackend) Index(ctx context.Context, key string, index int64) ([]byte, bool, error) {
	val, err := r.client.LIndex(ctx, key, index).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, r.wrap(err)
	}
	return val, true, nil
}

func (r *RedisBackend) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, r.wrap(err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return r.wrap(err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return r.wrap(err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
