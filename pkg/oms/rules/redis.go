package rules

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(symbol string) string { return "rules:" + symbol }

func (s *RedisStore) Get(ctx context.Context, symbol string) (model.SymbolRules, bool, error) {
	b, err := s.client.Get(ctx, key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.SymbolRules{}, false, nil
	}
	if err != nil {
		return model.SymbolRules{}, false, err
	}
	var r model.SymbolRules
	if err := json.Unmarshal(b, &r); err != nil {
		return model.SymbolRules{}, false, err
	}
	return r, true, nil
}

func (s *RedisStore) Set(ctx context.Context, r model.SymbolRules) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(r.Symbol), b, s.ttl).Err()
}
