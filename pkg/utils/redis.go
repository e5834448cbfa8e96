package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var reserveSlotScript = redis.NewScript(`
-- KEYS[1] = slot key
-- ARGV[1] = reservation marker (JSON)
-- ARGV[2] = ttl_ms (int)
--
-- Returns:
--  {1, ""}        if reserved by this call
--  {0, <payload>} if the slot already exists (reserved or completed)
local existing = redis.call('GET', KEYS[1])
if existing then
  return {0, existing}
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return {1, ""}
`)

var releaseSlotScript = redis.NewScript(`
-- KEYS[1] = slot key
-- ARGV[1] = reservation marker (JSON) owned by the caller
-- Deletes only a reservation this caller still owns; completed slots stay.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// ReserveSlot atomically claims key for the caller unless it already holds a value.
//
// Safety properties:
// - Atomic check-and-set using Lua.
// - TTL prevents leaked reservations on process crash.
func ReserveSlot(ctx context.Context, rdb *redis.Client, key, marker string, ttl time.Duration) (bool, string, error) {
	if rdb == nil {
		return false, "", fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return false, "", fmt.Errorf("key is required")
	}
	if ttl <= 0 {
		return false, "", fmt.Errorf("ttl must be > 0")
	}

	res, err := reserveSlotScript.Run(ctx, rdb, []string{key}, marker, ttl.Milliseconds()).Slice()
	if err != nil {
		return false, "", err
	}
	if len(res) != 2 {
		return false, "", fmt.Errorf("unexpected reserve reply: %v", res)
	}
	ok, _ := res[0].(int64)
	payload, _ := res[1].(string)
	return ok == 1, payload, nil
}

// ReleaseSlot drops a reservation still owned by marker.
func ReleaseSlot(ctx context.Context, rdb *redis.Client, key, marker string) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return fmt.Errorf("key is required")
	}
	_, err := releaseSlotScript.Run(ctx, rdb, []string{key}, marker).Result()
	return err
}
