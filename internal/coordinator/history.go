package coordinator

import (
	"context"
	"sync"
)

// DefaultHistorySize 每个节点保留的尝试记录数
const DefaultHistorySize = 32

// History 内存中的尝试记录（每节点环形缓冲），实现 Reporter
type History struct {
	mu     sync.RWMutex
	size   int
	byNode map[int][]AttemptReport
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, byNode: make(map[int][]AttemptReport)}
}

func (h *History) NodeChanged(Node) {}

func (h *History) AttemptFinished(a AttemptReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.byNode[a.Index], a)
	if len(list) > h.size {
		list = list[len(list)-h.size:]
	}
	h.byNode[a.Index] = list
}

// Attempts 最近的 limit 条记录，新的在前
func (h *History) Attempts(_ context.Context, index, limit int) ([]AttemptReport, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := h.byNode[index]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]AttemptReport, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
