// Package redis provides a pool manager over a Redis connection pool.
//
// Mutations (Set, Dump, Remove, Publish) are shielded from caller cancellation; each command is
// still bounded by the client's read/write timeouts. Get and GetStruct turn a missing key into
// the caller's default instead of an error.
package redis

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/sheetwithoutsheet/swscore"
	"github.com/sheetwithoutsheet/swscore/encoding"
)

// ErrPoolNotOpen is returned by operations on a manager whose pool was never created or is closed.
var ErrPoolNotOpen = errors.New("redis connection is not open")

// PoolManager issues commands through a shared Redis connection pool.
type PoolManager struct {
	mux          sync.RWMutex
	client       *redis.Client
	closeTimeout time.Duration
}

// New wraps an already created client.
func New(client *redis.Client) *PoolManager {
	return &PoolManager{
		client:       client,
		closeTimeout: swscore.CloseTimeout,
	}
}

// Create opens a pool for cfg and pings the server once.
func Create(ctx context.Context, cfg Config) (*PoolManager, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	log.Info("Opening Redis pool", "address", opts.Addr, "db", opts.DB, "min", opts.MinIdleConns, "max", opts.PoolSize)

	client := redis.NewClient(opts)
	err = swscore.Retry(ctx, cfg.ConnectAttempts, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			if swscore.ShouldRetry(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, swscore.NewError(swscore.ConnectionError, fmt.Errorf("failed to create redis pool: %w", err), opts.Addr)
	}
	return New(client), nil
}

func (pm *PoolManager) getClient() (*redis.Client, error) {
	pm.mux.RLock()
	defer pm.mux.RUnlock()
	if pm.client == nil {
		return nil, ErrPoolNotOpen
	}
	return pm.client, nil
}

// Close closes all connections in the pool, bounded by swscore.CloseTimeout.
func (pm *PoolManager) Close(ctx context.Context) error {
	pm.mux.Lock()
	client := pm.client
	pm.client = nil
	pm.mux.Unlock()
	if client == nil {
		return nil
	}

	log.Info("Closing Redis pool")
	_, err := swscore.BoundedWait(ctx, "redis pool close", pm.closeTimeout, func(ctx context.Context) (struct{}, error) {
		return swscore.Shield(ctx, func(context.Context) (struct{}, error) {
			if err := client.Close(); err != nil {
				return struct{}{}, swscore.NewError(swscore.PoolTeardownFailure, fmt.Errorf("redis close failed: %w", err), nil)
			}
			return struct{}{}, nil
		})
	})
	if err != nil {
		log.Warn("Redis pool close failed", "error", err)
	}
	return err
}

// keyNotFound reports whether the provided error corresponds to a missing key in Redis.
func keyNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Ping tests connectivity to Redis.
func (pm *PoolManager) Ping(ctx context.Context) error {
	client, err := pm.getClient()
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Get returns the value stored at key, or def if the key does not exist.
func (pm *PoolManager) Get(ctx context.Context, key string, def string) (string, error) {
	client, err := pm.getClient()
	if err != nil {
		return def, err
	}
	s, err := client.Get(ctx, key).Result()
	if keyNotFound(err) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}
	return s, nil
}

// GetStruct decodes the value stored at key into target.
// It returns false and leaves target untouched if the key does not exist.
func (pm *PoolManager) GetStruct(ctx context.Context, key string, target any) (bool, error) {
	client, err := pm.getClient()
	if err != nil {
		return false, err
	}
	if target == nil {
		return false, fmt.Errorf("target can't be nil")
	}
	ba, err := client.Get(ctx, key).Bytes()
	if keyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis getstruct failed for key %s: %w", key, err)
	}
	if err := encoding.DefaultMarshaler.Unmarshal(ba, target); err != nil {
		return false, swscore.NewError(swscore.SerializationError, fmt.Errorf("redis getstruct unmarshal failed for key %s: %w", key, err), key)
	}
	return true, nil
}

// Set stores value at key. A positive expire sets a TTL; zero or negative stores it without expiry.
func (pm *PoolManager) Set(ctx context.Context, key string, value any, expire time.Duration) (string, error) {
	client, err := pm.getClient()
	if err != nil {
		return "", err
	}
	if expire < 0 {
		expire = 0
	}
	return swscore.Shield(ctx, func(ctx context.Context) (string, error) {
		s, err := client.Set(ctx, key, value, expire).Result()
		if err != nil {
			return s, fmt.Errorf("redis set failed for key %s: %w", key, err)
		}
		return s, nil
	})
}

// Dump serializes obj with encoding.DefaultMarshaler and stores it at key, like Set.
// GetStruct reads it back.
func (pm *PoolManager) Dump(ctx context.Context, key string, obj any, expire time.Duration) (string, error) {
	ba, err := encoding.DefaultMarshaler.Marshal(obj)
	if err != nil {
		return "", swscore.NewError(swscore.SerializationError, fmt.Errorf("redis dump marshal failed for key %s: %w", key, err), key)
	}
	return pm.Set(ctx, key, ba, expire)
}

// Remove deletes keys and returns how many existed. Missing keys are ignored.
func (pm *PoolManager) Remove(ctx context.Context, keys ...string) (int64, error) {
	client, err := pm.getClient()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return swscore.Shield(ctx, func(ctx context.Context) (int64, error) {
		n, err := client.Del(ctx, keys...).Result()
		if err != nil {
			return n, fmt.Errorf("redis remove failed: %w", err)
		}
		return n, nil
	})
}

// Publish JSON-encodes message and publishes it on channel, returning the number of receivers.
func (pm *PoolManager) Publish(ctx context.Context, channel string, message any) (int64, error) {
	client, err := pm.getClient()
	if err != nil {
		return 0, err
	}
	ba, err := encoding.DefaultMarshaler.Marshal(message)
	if err != nil {
		return 0, swscore.NewError(swscore.SerializationError, fmt.Errorf("redis publish marshal failed for channel %s: %w", channel, err), channel)
	}
	return swscore.Shield(ctx, func(ctx context.Context) (int64, error) {
		n, err := client.Publish(ctx, channel, string(ba)).Result()
		if err != nil {
			return n, fmt.Errorf("redis publish failed for channel %s: %w", channel, err)
		}
		log.Debug("redis publish", "channel", channel, "receivers", n)
		return n, nil
	})
}
