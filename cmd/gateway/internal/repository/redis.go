package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/tickfeed/pkg/models"
)

// Compile-time check to ensure RedisStore implements TickStore
var _ TickStore = (*RedisStore)(nil)

// RedisStore reads tick snapshots written by the processor.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Latest fetches the most recent tick cached for symbol.
func (r *RedisStore) Latest(ctx context.Context, symbol string) (models.MarketTick, error) {
	payload, err := r.client.Get(ctx, models.SnapshotKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.MarketTick{}, ErrNoSnapshot
	}
	if err != nil {
		return models.MarketTick{}, fmt.Errorf("get snapshot %s: %w", symbol, err)
	}

	var tick models.MarketTick
	if err := json.Unmarshal(payload, &tick); err != nil {
		return models.MarketTick{}, fmt.Errorf("decode snapshot %s: %w", symbol, err)
	}
	return tick, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
