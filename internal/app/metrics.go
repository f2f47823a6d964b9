package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taoyao-code/fieldsync/internal/metrics"
)

// NewMetrics 初始化注册表与协调器指标
func NewMetrics() (*prometheus.Registry, *metrics.CoordinatorMetrics) {
	reg := metrics.NewRegistry()
	return reg, metrics.NewCoordinatorMetrics(reg)
}
