package app

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/clock"
	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/edge"
	"github.com/taoyao-code/fieldsync/internal/persist"
	"github.com/taoyao-code/fieldsync/internal/radio"
	"github.com/taoyao-code/fieldsync/internal/sensor"
)

// SensorLevels 配置的基准电平；缺少的通道为 0，超量程截断
func SensorLevels(levels []int) sensor.Sample {
	var s sensor.Sample
	for i := 0; i < len(levels) && i < sensor.Channels; i++ {
		v := levels[i]
		if v < 0 {
			v = 0
		}
		if v > sensor.MaxCount {
			v = sensor.MaxCount
		}
		s[i] = uint16(v)
	}
	return s
}

// Calibrator 未配置标定时返回零值（设备使用恒等标定）
func Calibrator(cfgs []cfgpkg.CalibrationConfig) sensor.Calibrator {
	var c sensor.Calibrator
	if len(cfgs) != sensor.Channels {
		return c
	}
	for i, cc := range cfgs {
		c[i] = sensor.Calibration{
			Offset:    cc.Offset,
			Scale:     cc.Scale,
			Tolerance: cc.Tolerance,
			Floor:     cc.Floor,
		}
	}
	return c
}

// NewEdgeStore 记录文件存储；sub 非空时放在子目录（同进程多个节点）
func NewEdgeStore(cfg cfgpkg.PersistenceConfig, sub string, log *zap.Logger) *persist.FileStore {
	dir := cfg.Dir
	if sub != "" {
		dir = filepath.Join(dir, sub)
	}
	store := persist.NewFileStore(persist.FileConfig{
		Dir:        dir,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}, log)
	if !store.Ready() {
		log.Warn("persistence not available, node will refuse sync", zap.String("dir", dir))
	}
	return store
}

// NewEdgeDevice 组装边缘设备：仿真 ADC、采样流水线、可设置的 RTC
func NewEdgeDevice(cfg *cfgpkg.Config, addr radio.Address, tr radio.Transport, store persist.Store, observer edge.Observer, log *zap.Logger) *edge.Device {
	adc := sensor.NewSimADC(SensorLevels(cfg.Sensor.Levels), cfg.Sensor.Jitter, uint64(addr))
	pipeline := sensor.NewPipeline(adc,
		sensor.WithSpacing(cfg.Sensor.Spacing),
		sensor.WithWindow(cfg.Sensor.Window),
	)
	return edge.NewDevice(edge.Config{
		Address:      addr,
		Coordinator:  radio.Address(cfg.Radio.Coordinator),
		ReplySpacing: cfg.Protocol.ReplySpacing,
		PollTimeout:  cfg.Protocol.PollTimeout,
		Calibration:  Calibrator(cfg.Sensor.Calibration),
	}, tr, clock.NewOffsetClock(nil), pipeline, store,
		edge.WithLogger(log),
		edge.WithObserver(observer),
	)
}
