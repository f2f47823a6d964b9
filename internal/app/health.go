package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/fieldsync/internal/health"
	pgstorage "github.com/taoyao-code/fieldsync/internal/storage/pg"
	redisstorage "github.com/taoyao-code/fieldsync/internal/storage/redis"
)

// NewHealthAggregator 创建健康检查聚合器：无线链路 + 节点状态
func NewHealthAggregator(link health.Link, nodes health.NodeSource) *health.Aggregator {
	return health.NewAggregator(
		health.NewRadioChecker(link),
		health.NewNodeChecker(nodes),
	)
}

// AddDatabaseChecker 启用数据库时添加检查器
func AddDatabaseChecker(aggregator *health.Aggregator, dbpool *pgxpool.Pool, recorder *pgstorage.HistoryRecorder) {
	if dbpool == nil {
		return
	}
	var drops health.DropSource
	if recorder != nil {
		drops = recorder
	}
	aggregator.AddChecker(health.NewDatabaseChecker(dbpool, drops))
}

// AddRedisChecker 启用 Redis 时添加检查器
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client, mirror *redisstorage.NodeMirror) {
	if redisClient == nil {
		return
	}
	var breaker health.BreakerSource
	if mirror != nil {
		breaker = mirror
	}
	aggregator.AddChecker(health.NewRedisChecker(redisClient, breaker))
}
