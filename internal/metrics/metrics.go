package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taoyao-code/fieldsync/internal/coordinator"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// CoordinatorMetrics 协调器握手指标，实现 coordinator.Reporter
type CoordinatorMetrics struct {
	AttemptTotal *prometheus.CounterVec   // labels: command, result
	AckLatency   *prometheus.HistogramVec // labels: command
	Skew         prometheus.Histogram
	StaleFrames  prometheus.Counter
	NodeStatus   *prometheus.GaugeVec // labels: node, status
	Readings     *prometheus.GaugeVec // labels: node, channel
}

var _ coordinator.Reporter = (*CoordinatorMetrics)(nil)

// NewCoordinatorMetrics 注册并返回协调器指标
func NewCoordinatorMetrics(reg prometheus.Registerer) *CoordinatorMetrics {
	m := &CoordinatorMetrics{
		AttemptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_handshake_attempts_total",
			Help: "Handshake attempts by command and result.",
		}, []string{"command", "result"}),
		AckLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldsync_ack_latency_seconds",
			Help:    "Time from send to transmit status.",
			Buckets: []float64{0.002, 0.005, 0.01, 0.015, 0.02, 0.05, 0.1, 0.5, 1},
		}, []string{"command"}),
		Skew: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldsync_clock_skew_seconds",
			Help:    "Measured clock skew at echo arrival.",
			Buckets: []float64{-2, -1, 0, 1, 2},
		}),
		StaleFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_stale_frames_total",
			Help: "Data frames dropped while awaiting transmit status.",
		}),
		NodeStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fieldsync_node_status",
			Help: "1 for the current status of each node.",
		}, []string{"node", "status"}),
		Readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fieldsync_node_reading",
			Help: "Latest reading per node and channel.",
		}, []string{"node", "channel"}),
	}
	reg.MustRegister(m.AttemptTotal, m.AckLatency, m.Skew, m.StaleFrames, m.NodeStatus, m.Readings)
	return m
}

func (m *CoordinatorMetrics) NodeChanged(n coordinator.Node) {
	for _, s := range coordinator.AllStatuses {
		v := 0.0
		if s == n.Status {
			v = 1
		}
		m.NodeStatus.WithLabelValues(n.Name, s.String()).Set(v)
	}
	for i, r := range n.LatestReadings {
		m.Readings.WithLabelValues(n.Name, channelLabel(i)).Set(float64(r))
	}
}

func (m *CoordinatorMetrics) AttemptFinished(a coordinator.AttemptReport) {
	m.AttemptTotal.WithLabelValues(a.Command.String(), a.Reason).Inc()
	if a.Acked {
		m.AckLatency.WithLabelValues(a.Command.String()).Observe(a.AckLatency.Seconds())
	}
	if a.SkewValid {
		m.Skew.Observe(a.Skew.Seconds())
	}
	if a.Stale > 0 {
		m.StaleFrames.Add(float64(a.Stale))
	}
}

func channelLabel(i int) string {
	return string(rune('0' + i))
}

// EdgeMetrics 边缘设备事件计数，实现 edge.Observer
type EdgeMetrics struct {
	Events *prometheus.CounterVec // labels: event, result
}

// NewEdgeMetrics 注册并返回边缘指标
func NewEdgeMetrics(reg prometheus.Registerer) *EdgeMetrics {
	m := &EdgeMetrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_edge_events_total",
			Help: "Edge device events by kind and result.",
		}, []string{"event", "result"}),
	}
	reg.MustRegister(m.Events)
	return m
}

func (m *EdgeMetrics) Record(event, result string) {
	m.Events.WithLabelValues(event, result).Inc()
}
