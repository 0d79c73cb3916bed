package kv

import (
	"context"

	"DeskPilot/pkg/redis"
)

// RedisStore 基于 pkg/redis 全局客户端，prefix 用于隔离应用
type RedisStore struct {
	prefix string
}

func NewRedisStore(prefix string) *RedisStore {
	return &RedisStore{prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := redis.GetBytes(ctx, s.key(key))
	if redis.IsNil(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return redis.Set(ctx, s.key(key), value, 0)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := redis.Del(ctx, s.key(key))
	return err
}
