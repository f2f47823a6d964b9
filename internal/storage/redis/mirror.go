package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/coordinator"
)

const recentAttempts = 50

// 连续失败 breakerFailures 次后熔断 breakerOpen，期间镜像写入直接跳过
const (
	breakerFailures = 3
	breakerOpen     = 30 * time.Second
)

// NodeMirror 把节点表镜像到 redis，重启后用于恢复；实现 coordinator.Reporter
//
// 键布局:
//
//	<prefix>nodes            hash  index -> Node JSON
//	<prefix>attempts         list  最近的 AttemptReport JSON（新的在前）
type NodeMirror struct {
	rdb     redis.Cmdable
	prefix  string
	logger  *zap.Logger
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

var _ coordinator.Reporter = (*NodeMirror)(nil)

func NewNodeMirror(rdb redis.Cmdable, prefix string, logger *zap.Logger) *NodeMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &NodeMirror{rdb: rdb, prefix: prefix, logger: logger, timeout: 500 * time.Millisecond}
	m.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-mirror",
		Timeout: breakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
	return m
}

// BreakerState 镜像写入熔断器状态
func (m *NodeMirror) BreakerState() gobreaker.State { return m.cb.State() }

// write 经熔断器执行一次写入；熔断期间返回 gobreaker.ErrOpenState
func (m *NodeMirror) write(fn func(ctx context.Context) error) error {
	_, err := m.cb.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		return nil, fn(ctx)
	})
	return err
}

func (m *NodeMirror) nodesKey() string    { return m.prefix + "nodes" }
func (m *NodeMirror) attemptsKey() string { return m.prefix + "attempts" }

func (m *NodeMirror) NodeChanged(n coordinator.Node) {
	raw, err := json.Marshal(n)
	if err != nil {
		m.logger.Warn("marshal node failed", zap.Int("index", n.Index), zap.Error(err))
		return
	}
	err = m.write(func(ctx context.Context) error {
		return m.rdb.HSet(ctx, m.nodesKey(), strconv.Itoa(n.Index), raw).Err()
	})
	if err != nil && !errors.Is(err, gobreaker.ErrOpenState) {
		m.logger.Warn("mirror node to redis failed", zap.Int("index", n.Index), zap.Error(err))
	}
}

func (m *NodeMirror) AttemptFinished(a coordinator.AttemptReport) {
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	err = m.write(func(ctx context.Context) error {
		pipe := m.rdb.TxPipeline()
		pipe.LPush(ctx, m.attemptsKey(), raw)
		pipe.LTrim(ctx, m.attemptsKey(), 0, recentAttempts-1)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && !errors.Is(err, gobreaker.ErrOpenState) {
		m.logger.Warn("mirror attempt to redis failed", zap.String("handshake_id", a.ID.String()), zap.Error(err))
	}
}

// Load 读取镜像中的全部节点
func (m *NodeMirror) Load(ctx context.Context) ([]coordinator.Node, error) {
	all, err := m.rdb.HGetAll(ctx, m.nodesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("load node mirror: %w", err)
	}
	out := make([]coordinator.Node, 0, len(all))
	for field, raw := range all {
		var n coordinator.Node
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			m.logger.Warn("skip corrupt node mirror entry", zap.String("field", field), zap.Error(err))
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// RestoreInto 将镜像装入节点表，返回恢复的节点数
func (m *NodeMirror) RestoreInto(ctx context.Context, table *coordinator.Table) (int, error) {
	nodes, err := m.Load(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, n := range nodes {
		if table.Restore(n) {
			restored++
		}
	}
	return restored, nil
}

// Recent 最近的尝试记录
func (m *NodeMirror) Recent(ctx context.Context, limit int) ([]coordinator.AttemptReport, error) {
	if limit <= 0 || limit > recentAttempts {
		limit = recentAttempts
	}
	raws, err := m.rdb.LRange(ctx, m.attemptsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]coordinator.AttemptReport, 0, len(raws))
	for _, raw := range raws {
		var a coordinator.AttemptReport
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
