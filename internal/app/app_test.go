package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/coordinator"
	"github.com/taoyao-code/fieldsync/internal/health"
	"github.com/taoyao-code/fieldsync/internal/radio"
	"github.com/taoyao-code/fieldsync/internal/sensor"
)

func TestSensorLevelsClamps(t *testing.T) {
	assert.Equal(t, sensor.Sample{0, 2048, sensor.MaxCount}, SensorLevels([]int{-5, 2048, 9000, 7}))
	assert.Equal(t, sensor.Sample{100, 0, 0}, SensorLevels([]int{100}))
}

func TestCalibratorNeedsAllChannels(t *testing.T) {
	assert.Equal(t, sensor.Calibrator{}, Calibrator(nil))
	assert.Equal(t, sensor.Calibrator{}, Calibrator([]cfgpkg.CalibrationConfig{{Scale: 2}}))

	c := Calibrator([]cfgpkg.CalibrationConfig{
		{Offset: 10, Scale: 2, Floor: -1},
		{Scale: 1, Floor: -1},
		{Scale: 0.5, Floor: -1},
	})
	assert.Equal(t, sensor.Triple{180, 100, 50}, c.Apply(sensor.Triple{100, 100, 100}))
	assert.Equal(t, -1.0, c[0].Apply(0))
}

func TestCoordinatorConfig(t *testing.T) {
	cc := CoordinatorConfig(cfgpkg.ProtocolConfig{
		MaxAttempts:     3,
		TxStatusTimeout: time.Second,
		ReplyTimeout:    2 * time.Second,
		StopFlagTimeout: 3 * time.Second,
		MaxAckLatency:   20 * time.Millisecond,
		RetryDelay:      50 * time.Millisecond,
		QueueSize:       8,
	})
	assert.Equal(t, 3, cc.MaxAttempts)
	assert.Equal(t, 2*time.Second, cc.Timeouts.Reply)
	assert.Equal(t, 3*time.Second, cc.Timeouts.StopFlag)
	assert.Equal(t, 50*time.Millisecond, cc.RetryDelay)
	assert.Equal(t, 8, cc.QueueSize)
}

func TestNewNodeTableDefaultRoster(t *testing.T) {
	table, err := NewNodeTable(context.Background(), "", nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 10, table.Len())
	n, ok := table.Get(3)
	require.True(t, ok)
	assert.Equal(t, radio.Address(0x00E3), n.Address)
	assert.Equal(t, coordinator.StatusUnknown, n.Status)
}

func TestNewNodeTableMissingFile(t *testing.T) {
	_, err := NewNodeTable(context.Background(), "does-not-exist.yaml", nil, zap.NewNop())
	assert.Error(t, err)
}

func TestNewEdgeStoreSubdir(t *testing.T) {
	dir := t.TempDir()
	store := NewEdgeStore(cfgpkg.PersistenceConfig{Dir: dir}, "node-00E1", zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })
	assert.True(t, store.Ready())
	assert.DirExists(t, dir+"/node-00E1")
}

func TestHealthAggregatorOptionalCheckers(t *testing.T) {
	m := radio.NewMedium()
	ep := m.Attach(radio.CoordinatorAddress)
	table, err := coordinator.NewTable(coordinator.DefaultRoster())
	require.NoError(t, err)

	agg := NewHealthAggregator(ep, table)
	AddRedisChecker(agg, nil, nil)
	AddDatabaseChecker(agg, nil, nil)

	results := agg.CheckAll(context.Background())
	assert.Len(t, results, 2)
	assert.Equal(t, health.StatusHealthy, results["radio"].Status)
	assert.Equal(t, health.StatusHealthy, results["nodes"].Status)
}

func TestRedisClientDisabled(t *testing.T) {
	client, err := NewRedisClient(context.Background(), cfgpkg.RedisConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestTelemetryDisabled(t *testing.T) {
	exp, err := NewInfluxExporterIfEnabled(cfgpkg.InfluxConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, exp)

	rep, closeFn, err := NewMQTTReporterIfEnabled(cfgpkg.MQTTConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, rep)
	closeFn()
}

func TestNewHTTPServerHidesMetricsWhenDisabled(t *testing.T) {
	reg, m := NewMetrics()
	require.NotNil(t, reg)
	require.NotNil(t, m)

	cfg := &cfgpkg.Config{Metrics: cfgpkg.MetricsConfig{Enable: false, Path: "/metrics"}}
	srv := NewHTTPServer(cfg, nil, func() bool { return true }, zap.NewNop())
	for _, r := range srv.Engine().Routes() {
		assert.NotEqual(t, "/metrics", r.Path)
	}
}
