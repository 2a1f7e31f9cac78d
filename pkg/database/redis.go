package database

import (
	"context"
	"fmt"
	"time"

	"cogni-rag-go/internal/config"
	"cogni-rag-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// attemptsTTL 是失败计数的过期时间。
const attemptsTTL = 24 * time.Hour

// NewRedis 初始化 Redis 客户端连接并测试连通性。
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("[Redis] client connected successfully")
	return rdb, nil
}

// AttemptCounter 基于 Redis 统计任务失败次数。
type AttemptCounter struct {
	rdb *redis.Client
}

// NewAttemptCounter 创建一个 AttemptCounter。
func NewAttemptCounter(rdb *redis.Client) *AttemptCounter {
	return &AttemptCounter{rdb: rdb}
}

// Incr 将 key 的计数加一并刷新过期时间，返回新的计数。
func (c *AttemptCounter) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Expire(ctx, key, attemptsTTL).Err()
	return n, nil
}

// Clear 删除 key 的计数。
func (c *AttemptCounter) Clear(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}
