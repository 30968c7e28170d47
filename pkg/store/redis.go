package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps all keys as fields of a single Redis hash.
type RedisStore struct {
	client *redis.Client
	key    string
}

// OpenRedis connects to redisURL and verifies the connection.
func OpenRedis(ctx context.Context, redisURL, hashKey string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStore(client, hashKey), nil
}

func NewRedisStore(client *redis.Client, hashKey string) *RedisStore {
	if hashKey == "" {
		hashKey = "linecord:storage"
	}
	return &RedisStore{client: client, key: hashKey}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.wrap(err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.wrap(s.client.HSet(ctx, s.key, key, value).Err())
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.wrap(s.client.HDel(ctx, s.key, key).Err())
}

func (s *RedisStore) Snapshot(ctx context.Context) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, s.wrap(err)
	}
	return m, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("redis store %s: %w", s.key, err)
}
