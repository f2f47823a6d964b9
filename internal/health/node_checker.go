package health

import (
	"context"
	"fmt"
	"time"

	"github.com/taoyao-code/fieldsync/internal/coordinator"
)

// NodeSource 节点快照来源
type NodeSource interface {
	Snapshot() []coordinator.Node
}

// NodeChecker 节点状态检查：有节点处于 Error 时降级
type NodeChecker struct {
	nodes NodeSource
}

func NewNodeChecker(nodes NodeSource) *NodeChecker {
	return &NodeChecker{nodes: nodes}
}

func (c *NodeChecker) Name() string {
	return "nodes"
}

func (c *NodeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	counts := make(map[string]any)
	failed := 0
	for _, n := range c.nodes.Snapshot() {
		key := n.Status.String()
		v, _ := counts[key].(int)
		counts[key] = v + 1
		if n.Status == coordinator.StatusError {
			failed++
		}
	}
	result := CheckResult{
		Status:  StatusHealthy,
		Message: "ok",
		Details: counts,
	}
	if failed > 0 {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d node(s) in error", failed)
	}
	result.Latency = time.Since(start)
	return result
}
