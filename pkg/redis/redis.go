package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	mu     sync.RWMutex
	client *redis.Client
)

// ErrNotConnected 尚未调用 SetClient 或已关闭
var ErrNotConnected = errors.New("redis: not connected")

// SetClient 由 internal/initial 在连通后注册
func SetClient(c *redis.Client) {
	mu.Lock()
	client = c
	mu.Unlock()
}

// Close 关闭并清空全局客户端，可重复调用
func Close() error {
	mu.Lock()
	c := client
	client = nil
	mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func current() (*redis.Client, error) {
	mu.RLock()
	defer mu.RUnlock()
	if client == nil {
		return nil, ErrNotConnected
	}
	return client, nil
}

// IsNil key 不存在
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

func GetBytes(ctx context.Context, key string) ([]byte, error) {
	c, err := current()
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, key).Bytes()
}

// Set expiration 为 0 表示不过期
func Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c, err := current()
	if err != nil {
		return err
	}
	return c.Set(ctx, key, value, expiration).Err()
}

func Del(ctx context.Context, keys ...string) (int64, error) {
	c, err := current()
	if err != nil {
		return 0, err
	}
	return c.Del(ctx, keys...).Result()
}
