package app

import (
	"context"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	redisstorage "github.com/taoyao-code/fieldsync/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端；未启用返回 nil
func NewRedisClient(ctx context.Context, cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, skipping initialization")
		return nil, nil
	}

	client, err := redisstorage.NewClient(ctx, cfg, logger.Named("redis"))
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}
