package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/message-scheduler/internal/model"
)

func TestRedisCache_StoreOutcome_Success(t *testing.T) {
	t.Parallel()

	// Start in-memory Redis
	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	ttl := 10 * time.Second
	cache := NewRedisCache(rdb, ttl)

	ctx := context.Background()
	id := "6a2f1a9e-0000-0000-0000-000000000042"
	at := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

	if err := cache.StoreOutcome(ctx, id, model.StatusSent, "", at); err != nil {
		t.Fatalf("StoreOutcome() error: %v", err)
	}

	key := "schedule:" + id

	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}

	ttlRemaining := mr.TTL(key)
	if ttlRemaining <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttlRemaining)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", key, err)
	}

	var got outcomeValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}

	if got.Status != string(model.StatusSent) {
		t.Fatalf("expected status %q, got %q", model.StatusSent, got.Status)
	}
	if got.LastError != "" {
		t.Fatalf("expected empty lastError, got %q", got.LastError)
	}
	if !got.At.Equal(at.UTC()) {
		t.Fatalf("expected At %v, got %v", at.UTC(), got.At)
	}
}

func TestRedisCache_StoreOutcome_RecordsFailure(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	id := "6a2f1a9e-0000-0000-0000-000000000001"

	if err := cache.StoreOutcome(ctx, id, model.StatusFailed, "chat not found", time.Now()); err != nil {
		t.Fatalf("StoreOutcome() error: %v", err)
	}

	raw, err := mr.Get("schedule:" + id)
	if err != nil {
		t.Fatalf("failed to get key: %v", err)
	}

	var got outcomeValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}
	if got.Status != string(model.StatusFailed) {
		t.Fatalf("expected status %q, got %q", model.StatusFailed, got.Status)
	}
	if got.LastError != "chat not found" {
		t.Fatalf("expected lastError recorded, got %q", got.LastError)
	}
}

func TestRedisCache_StoreOutcome_OverwritesExistingValue(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	id := "6a2f1a9e-0000-0000-0000-000000000007"

	// First write records a retryable failure, second write records the
	// eventual success; last write wins.
	if err := cache.StoreOutcome(ctx, id, model.StatusFailed, "timeout", time.Now()); err != nil {
		t.Fatalf("first StoreOutcome() error: %v", err)
	}
	if err := cache.StoreOutcome(ctx, id, model.StatusSent, "", time.Now()); err != nil {
		t.Fatalf("second StoreOutcome() error: %v", err)
	}

	raw, err := mr.Get("schedule:" + id)
	if err != nil {
		t.Fatalf("failed to get key: %v", err)
	}

	var got outcomeValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}
	if got.Status != string(model.StatusSent) {
		t.Fatalf("expected overwritten status %q, got %q", model.StatusSent, got.Status)
	}
	if got.LastError != "" {
		t.Fatalf("expected lastError cleared, got %q", got.LastError)
	}
}
