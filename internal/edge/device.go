package edge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/clock"
	"github.com/taoyao-code/fieldsync/internal/persist"
	"github.com/taoyao-code/fieldsync/internal/protocol/payload"
	"github.com/taoyao-code/fieldsync/internal/radio"
	"github.com/taoyao-code/fieldsync/internal/sensor"
)

// Config 边缘设备参数
type Config struct {
	Address      radio.Address
	Coordinator  radio.Address
	ReplySpacing time.Duration
	PollTimeout  time.Duration
	Calibration  sensor.Calibrator
}

// Option 设备选项
type Option func(*Device)

func WithLogger(l *zap.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(d *Device) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithNow 单调时间源（采样与回复间隔）
func WithNow(now func() time.Time) Option {
	return func(d *Device) {
		if now != nil {
			d.now = now
		}
	}
}

// Device 边缘设备控制循环：采样流水线、回复序列与短轮询交替推进
type Device struct {
	cfg      Config
	tr       radio.Transport
	pipeline *sensor.Pipeline
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	mu     sync.RWMutex
	interp *Interpreter
	seq    *Sequencer
}

func NewDevice(cfg Config, tr radio.Transport, clk *clock.OffsetClock, pipeline *sensor.Pipeline, store persist.Store, opts ...Option) *Device {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Millisecond
	}
	if cfg.Calibration == (sensor.Calibrator{}) {
		cfg.Calibration = sensor.Calibrator{sensor.Identity(), sensor.Identity(), sensor.Identity()}
	}
	d := &Device{
		cfg:      cfg,
		tr:       tr,
		pipeline: pipeline,
		logger:   zap.NewNop(),
		observer: NopObserver(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.Stringer("node", cfg.Address))
	d.interp = NewInterpreter(clk, store, pipeline, d.logger)
	d.seq = NewSequencer(tr, cfg.Coordinator, cfg.ReplySpacing)
	return d
}

// Session 当前会话副本
func (d *Device) Session() Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.interp.Session()
}

// Address 本机地址
func (d *Device) Address() radio.Address { return d.cfg.Address }

// Run 控制循环；ctx 取消时返回
func (d *Device) Run(ctx context.Context) error {
	d.logger.Info("edge control loop started", zap.Duration("reply_spacing", d.seq.spacing))
	// 启动时丢弃模块里残留的帧
	d.tr.Flush()
	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info("edge control loop stopped")
			return err
		}
		if err := d.Tick(ctx); errors.Is(err, radio.ErrClosed) {
			d.logger.Error("edge radio closed", zap.Error(err))
			return err
		}
	}
}

// Tick 推进一次：采样、发回复、短轮询
func (d *Device) Tick(ctx context.Context) error {
	now := d.now()
	d.stepPipeline(now)
	d.stepSequencer(now)

	resp, err := d.tr.TryReceive(ctx, d.cfg.PollTimeout)
	switch {
	case err == nil:
	case errors.Is(err, radio.ErrTimeout):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		d.observer.Record("receive", "transport_error")
		d.logger.Warn("radio receive failed", zap.Error(err))
		if errors.Is(err, radio.ErrClosed) {
			return err
		}
		return nil
	}
	if resp.Kind != radio.ResponseData {
		return nil
	}
	d.handle(resp)
	return nil
}

func (d *Device) stepPipeline(now time.Time) {
	emitted, err := d.pipeline.Step(now)
	if err != nil {
		d.observer.Record("sample", "error")
	}
	if !emitted {
		return
	}
	d.observer.Record("emission", "ok")
	e, err := d.pipeline.Latest()
	if err != nil {
		return
	}
	d.mu.Lock()
	err = d.interp.Persist(d.cfg.Calibration.Apply(e.Mean))
	d.mu.Unlock()
	if err != nil {
		d.observer.Record("persist", "error")
		d.logger.Warn("persist record failed", zap.Error(err))
	}
}

func (d *Device) stepSequencer(now time.Time) {
	v, sent, err := d.seq.Step(now)
	if !sent {
		return
	}
	if err != nil {
		d.observer.Record("reply", "error")
		d.logger.Warn("reply frame failed", zap.Stringer("value", v), zap.Error(err))
		return
	}
	d.observer.Record("reply", v.Kind.String())
	d.logger.Debug("reply frame sent", zap.Stringer("value", v))
}

func (d *Device) handle(resp radio.Response) {
	raw := resp.Value()
	d.mu.Lock()
	replies, err := d.interp.Handle(raw)
	d.mu.Unlock()
	if err != nil {
		d.observer.Record("command", "ignored")
		return
	}
	if len(replies) == 0 {
		return
	}
	if cmd, perr := payload.ParseCommand(raw); perr == nil {
		d.observer.Record("command", cmd.Kind.String())
	}
	// 新指令丢弃上一条尚未发完的回复
	d.tr.Flush()
	d.seq.Replace(replies...)
	d.stepSequencer(d.now())
}
