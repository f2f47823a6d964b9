package pg

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/coordinator"
)

// AttemptWriter 历史写入接口
type AttemptWriter interface {
	Insert(ctx context.Context, a coordinator.AttemptReport) error
}

// HistoryRecorder 异步写入握手历史，实现 coordinator.Reporter。
// 控制循环只做非阻塞入队；队列满时丢弃并计数。
type HistoryRecorder struct {
	w       AttemptWriter
	queue   chan coordinator.AttemptReport
	logger  *zap.Logger
	timeout time.Duration
	dropped atomic.Int64
}

var _ coordinator.Reporter = (*HistoryRecorder)(nil)

func NewHistoryRecorder(w AttemptWriter, size int, logger *zap.Logger) *HistoryRecorder {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryRecorder{
		w:       w,
		queue:   make(chan coordinator.AttemptReport, size),
		logger:  logger,
		timeout: 3 * time.Second,
	}
}

func (h *HistoryRecorder) NodeChanged(coordinator.Node) {}

func (h *HistoryRecorder) AttemptFinished(a coordinator.AttemptReport) {
	select {
	case h.queue <- a:
	default:
		h.dropped.Add(1)
	}
}

// Dropped 因队列满丢弃的记录数
func (h *HistoryRecorder) Dropped() int64 { return h.dropped.Load() }

// Run 写入循环；ctx 取消后写完队列中剩余记录再返回
func (h *HistoryRecorder) Run(ctx context.Context) {
	for {
		select {
		case a := <-h.queue:
			h.write(a)
		case <-ctx.Done():
			for {
				select {
				case a := <-h.queue:
					h.write(a)
				default:
					return
				}
			}
		}
	}
}

func (h *HistoryRecorder) write(a coordinator.AttemptReport) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.w.Insert(ctx, a); err != nil {
		h.logger.Warn("persist handshake attempt failed",
			zap.String("handshake_id", a.ID.String()),
			zap.Int("attempt", a.Attempt),
			zap.Error(err))
	}
}
