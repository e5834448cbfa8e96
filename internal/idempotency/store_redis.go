package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payments-portal/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// RedisStore shares idempotency slots between API replicas.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("idempotency: redis client is nil")
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key string, rec Record, ttl time.Duration) (*Record, bool, error) {
	marker, err := json.Marshal(rec)
	if err != nil {
		return nil, false, err
	}
	reserved, payload, err := utils.ReserveSlot(ctx, s.rdb, redisKeyPrefix+key, string(marker), ttl)
	if err != nil {
		return nil, false, err
	}
	if reserved {
		return nil, true, nil
	}
	var existing Record
	if err := json.Unmarshal([]byte(payload), &existing); err != nil {
		return nil, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return &existing, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, redisKeyPrefix+key, payload, ttl).Err()
}

// Release relies on the reservation encoding identically to what Reserve stored.
func (s *RedisStore) Release(ctx context.Context, key string, reservation Record) error {
	marker, err := json.Marshal(reservation)
	if err != nil {
		return err
	}
	return utils.ReleaseSlot(ctx, s.rdb, redisKeyPrefix+key, string(marker))
}
