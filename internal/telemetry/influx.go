// Package telemetry 把已验证的节点数据导出到外部系统（InfluxDB、MQTT）
package telemetry

import (
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/coordinator"
)

const (
	measurementReading = "node_reading"
	measurementAttempt = "handshake_attempt"
)

// PointWriter influx 非阻塞写入接口（api.WriteAPI 的子集）
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxExporter 实现 coordinator.Reporter：
// 成功的同步写一条读数点，每次尝试写一条诊断点
type InfluxExporter struct {
	w      PointWriter
	close  func()
	logger *zap.Logger
}

var _ coordinator.Reporter = (*InfluxExporter)(nil)

// NewInfluxExporter 连接 InfluxDB；写入错误只记日志
func NewInfluxExporter(cfg cfgpkg.InfluxConfig, logger *zap.Logger) (*InfluxExporter, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	wapi := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range wapi.Errors() {
			logger.Warn("influx write failed", zap.Error(err))
		}
	}()
	e := NewInfluxExporterWithWriter(wapi, logger)
	e.close = client.Close
	return e, nil
}

func NewInfluxExporterWithWriter(w PointWriter, logger *zap.Logger) *InfluxExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InfluxExporter{w: w, logger: logger}
}

func (e *InfluxExporter) NodeChanged(coordinator.Node) {}

func (e *InfluxExporter) AttemptFinished(a coordinator.AttemptReport) {
	tags := map[string]string{
		"node":    a.Name,
		"address": a.Address.String(),
		"command": a.Command.String(),
	}
	fields := map[string]any{
		"attempt":        a.Attempt,
		"reason":         a.Reason,
		"acked":          a.Acked,
		"ack_latency_ms": float64(a.AckLatency.Microseconds()) / 1000,
		"stale":          a.Stale,
	}
	if a.SkewValid {
		fields["skew_s"] = a.Skew.Seconds()
	}
	e.w.WritePoint(influxdb2.NewPoint(measurementAttempt, tags, fields, a.FinishedAt))

	if a.Err != nil || a.Command != coordinator.CommandSync {
		return
	}
	readings := map[string]any{
		"epoch": int64(a.EchoedEpoch),
	}
	for i, v := range a.Readings {
		readings[fmt.Sprintf("v%d", i)] = int64(v)
	}
	e.w.WritePoint(influxdb2.NewPoint(measurementReading, map[string]string{
		"node":    a.Name,
		"address": a.Address.String(),
	}, readings, a.FinishedAt))
}

// Close 刷新缓冲并关闭客户端
func (e *InfluxExporter) Close() {
	e.w.Flush()
	if e.close != nil {
		e.close()
	}
}
