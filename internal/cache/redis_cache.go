package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/message-scheduler/internal/model"
)

// RedisCache keeps a TTL-bounded record of terminal delivery outcomes so
// dashboards can look up recent results without hitting the store.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type outcomeValue struct {
	Status    string    `json:"status"`
	LastError string    `json:"lastError,omitempty"`
	At        time.Time `json:"at"`
}

func (c *RedisCache) StoreOutcome(ctx context.Context, id string, status model.Status, lastError string, at time.Time) error {
	key := fmt.Sprintf("schedule:%s", id)
	val := outcomeValue{
		Status:    string(status),
		LastError: lastError,
		At:        at.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}
