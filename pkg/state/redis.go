package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"crconsync/pkg/logger"
)

// RedisStore keeps the state as one JSON string value. SET replaces it atomically.
//
// Load returns connection failures as errors. Only a missing or corrupt value yields Default.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *logger.Logger
}

func NewRedisStore(client *redis.Client, key string, l *logger.Logger) *RedisStore {
	return &RedisStore{client: client, key: key, logger: l}
}

func (s *RedisStore) Location() string {
	return fmt.Sprintf("redis://%s/%s", s.client.Options().Addr, s.key)
}

func (s *RedisStore) Load(ctx context.Context) (CursorState, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Default(), nil
	} else if err != nil {
		return Default(), fmt.Errorf("load state from redis: %w", err)
	}

	st, err := Decode(data)
	if err != nil {
		s.logger.Error("state value corrupt, starting from defaults", err, zap.String("key", s.key))
		return Default(), nil
	}
	return st, nil
}

func (s *RedisStore) Save(ctx context.Context, st CursorState) error {
	data, err := Encode(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save state to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context) (bool, error) {
	n, err := s.client.Del(ctx, s.key).Result()
	if err != nil {
		return false, fmt.Errorf("delete state from redis: %w", err)
	}
	return n > 0, nil
}
