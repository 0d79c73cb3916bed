package initial

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"DeskPilot/internal/config"
	"DeskPilot/pkg/redis"
	"DeskPilot/pkg/zlog"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrRedisDisabled 未配置 redis host，扁平存储改用本地文件
var ErrRedisDisabled = errors.New("redis not configured")

const redisDialTimeout = 5 * time.Second

func redisOptions(rc config.RedisConfig) (*goredis.Options, error) {
	host := strings.TrimSpace(rc.Host)
	if host == "" {
		return nil, ErrRedisDisabled
	}
	port := rc.Port
	if port == 0 {
		port = 6379
	}
	return &goredis.Options{
		Addr:         host + ":" + strconv.Itoa(port),
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
	}, nil
}

// InitRedis 连通后注册到 pkg/redis；失败时不保留半开的客户端
func InitRedis(ctx context.Context, conf *config.Config) error {
	opts, err := redisOptions(conf.RedisConfig)
	if err != nil {
		return err
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	redis.SetClient(client)
	zlog.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return nil
}
