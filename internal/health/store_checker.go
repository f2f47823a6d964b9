package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	redisstorage "github.com/taoyao-code/fieldsync/internal/storage/redis"
)

// BreakerSource 带熔断的写入方（Redis 节点镜像）
type BreakerSource interface {
	BreakerState() gobreaker.State
}

// DropSource 异步写入方的丢弃计数（历史记录队列）
type DropSource interface {
	Dropped() int64
}

// StoreChecker 外部存储检查：连通性 + 写入侧状态。
// 存储只承载镜像和历史，异常时控制循环照常运行，因此写入侧问题只报降级。
type StoreChecker struct {
	name    string
	ping    func(ctx context.Context) error
	pool    func() map[string]any
	breaker BreakerSource
	drops   DropSource

	lastDropped atomic.Int64
}

// NewRedisChecker Redis 检查；mirror 可为空
func NewRedisChecker(client *redisstorage.Client, mirror BreakerSource) *StoreChecker {
	return &StoreChecker{
		name: "redis",
		ping: client.HealthCheck,
		pool: func() map[string]any {
			s := client.Stats()
			return map[string]any{
				"total_conns": s.TotalConns,
				"idle_conns":  s.IdleConns,
				"timeouts":    s.Timeouts,
			}
		},
		breaker: mirror,
	}
}

// NewDatabaseChecker PostgreSQL 检查；recorder 可为空
func NewDatabaseChecker(pool *pgxpool.Pool, recorder DropSource) *StoreChecker {
	return &StoreChecker{
		name: "database",
		ping: pool.Ping,
		pool: func() map[string]any {
			s := pool.Stat()
			return map[string]any{
				"total_conns":    s.TotalConns(),
				"acquired_conns": s.AcquiredConns(),
				"max_conns":      s.MaxConns(),
			}
		},
		drops: recorder,
	}
}

func (c *StoreChecker) Name() string {
	return c.name
}

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	details := map[string]any{}
	if c.pool != nil {
		details = c.pool()
	}
	status, message := StatusHealthy, "ok"

	if c.breaker != nil {
		state := c.breaker.BreakerState()
		details["breaker"] = state.String()
		if state == gobreaker.StateOpen {
			status, message = StatusDegraded, "mirror writes suspended"
		}
	}
	if c.drops != nil {
		// 只看两次检查之间新增的丢弃
		total := c.drops.Dropped()
		delta := total - c.lastDropped.Swap(total)
		details["dropped"] = total
		if delta > 0 {
			status, message = StatusDegraded, fmt.Sprintf("%d attempt(s) dropped since last check", delta)
		}
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
