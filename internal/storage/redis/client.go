package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
)

// connectAttempts 启动时最多探测次数
const connectAttempts = 4

var ErrDisabled = errors.New("redis is not enabled")

// Client 镜像用 Redis 连接
type Client struct {
	*redis.Client
}

// NewClient 建立连接；Redis 可能晚于协调器启动，探测失败时按指数退避重试
func NewClient(ctx context.Context, cfg cfgpkg.RedisConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		pctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout+time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			logger.Warn("redis ping failed", zap.String("addr", cfg.Addr), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, connectAttempts-1), ctx))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Client{Client: rdb}, nil
}

func (c *Client) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}

// HealthCheck 供健康检查使用
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Stats() *redis.PoolStats {
	return c.PoolStats()
}
