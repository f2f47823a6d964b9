package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/telemetry"
)

// NewInfluxExporterIfEnabled 未启用返回 nil
func NewInfluxExporterIfEnabled(cfg cfgpkg.InfluxConfig, log *zap.Logger) (*telemetry.InfluxExporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	exp, err := telemetry.NewInfluxExporter(cfg, log.Named("influx"))
	if err != nil {
		return nil, err
	}
	log.Info("influx exporter initialized", zap.String("url", cfg.URL), zap.String("bucket", cfg.Bucket))
	return exp, nil
}

// NewMQTTReporterIfEnabled 未启用返回 nil；close 用于断开连接
func NewMQTTReporterIfEnabled(cfg cfgpkg.MQTTConfig, log *zap.Logger) (*telemetry.MQTTReporter, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	client, err := telemetry.ConnectMQTT(cfg, log.Named("mqtt"))
	if err != nil {
		return nil, func() {}, err
	}
	return telemetry.NewMQTTReporter(client, cfg, log.Named("mqtt")), func() { client.Disconnect(250) }, nil
}
