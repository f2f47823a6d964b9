package coordinator

import (
	"time"

	"go.uber.org/zap"
)

// AttemptReport 一次尝试的结果，送往展示协作者
type AttemptReport struct {
	Result
	Index       int       `json:"index"`
	Name        string    `json:"name"`
	MaxAttempts int       `json:"max_attempts"`
	Reason      string    `json:"reason"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Reporter 节点变化与尝试诊断的接收方
type Reporter interface {
	NodeChanged(n Node)
	AttemptFinished(r AttemptReport)
}

// MultiReporter 依次转发给多个 Reporter
type MultiReporter []Reporter

func (m MultiReporter) NodeChanged(n Node) {
	for _, r := range m {
		r.NodeChanged(n)
	}
}

func (m MultiReporter) AttemptFinished(a AttemptReport) {
	for _, r := range m {
		r.AttemptFinished(a)
	}
}

// NopReporter 丢弃全部报告
type NopReporter struct{}

func (NopReporter) NodeChanged(Node)             {}
func (NopReporter) AttemptFinished(AttemptReport) {}

// LogReporter 以结构化日志输出诊断
type LogReporter struct {
	Logger *zap.Logger
}

func (l LogReporter) NodeChanged(n Node) {
	l.Logger.Info("node status changed",
		zap.Int("index", n.Index),
		zap.Stringer("addr", n.Address),
		zap.Stringer("status", n.Status),
		zap.Int("attempts", n.Attempts),
		zap.Uint32("last_synced_epoch", n.LastSyncedEpoch),
		zap.String("last_error", n.LastError),
	)
}

func (l LogReporter) AttemptFinished(a AttemptReport) {
	fields := []zap.Field{
		zap.String("handshake_id", a.ID.String()),
		zap.Stringer("command", a.Command),
		zap.Int("index", a.Index),
		zap.Stringer("addr", a.Address),
		zap.Int("attempt", a.Attempt),
		zap.Int("max_attempts", a.MaxAttempts),
		zap.Duration("ack_latency", a.AckLatency),
		zap.String("reason", a.Reason),
	}
	if a.SkewValid {
		fields = append(fields, zap.Duration("skew", a.Skew), zap.Uint32("echoed_epoch", a.EchoedEpoch))
	}
	if a.Command == CommandSync && a.Frames > 1 {
		fields = append(fields, zap.Uint32s("readings", a.Readings[:]))
	}
	if a.FlagSeen {
		fields = append(fields, zap.Bool("flag", a.Flag))
	}
	if a.Stale > 0 {
		fields = append(fields, zap.Int("stale_frames", a.Stale))
	}
	if a.Err != nil {
		l.Logger.Warn("handshake attempt failed", append(fields, zap.Error(a.Err))...)
		return
	}
	l.Logger.Info("handshake attempt succeeded", fields...)
}
