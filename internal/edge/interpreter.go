package edge

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/clock"
	"github.com/taoyao-code/fieldsync/internal/persist"
	"github.com/taoyao-code/fieldsync/internal/protocol/payload"
	"github.com/taoyao-code/fieldsync/internal/sensor"
)

// ReadingSource 回复序列取样的读数来源
type ReadingSource interface {
	Latest() (sensor.Emission, error)
}

// Interpreter 指令解释器：按幅值分类下行帧并驱动会话
type Interpreter struct {
	clk    *clock.OffsetClock
	store  persist.Store
	source ReadingSource
	logger *zap.Logger

	session Session
}

func NewInterpreter(clk *clock.OffsetClock, store persist.Store, source ReadingSource, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{clk: clk, store: store, source: source, logger: logger}
}

// Session 当前会话副本
func (in *Interpreter) Session() Session { return in.session }

// Handle 处理一个下行值，返回需要回复的帧序列（可能为空）
func (in *Interpreter) Handle(raw uint32) ([]payload.Value, error) {
	cmd, err := payload.ParseCommand(raw)
	if err != nil {
		in.logger.Warn("command ignored", zap.Uint32("value", raw), zap.Error(err))
		return nil, err
	}
	switch cmd.Kind {
	case payload.KindSetClock:
		return in.setClock(cmd.Raw), nil
	case payload.KindStop:
		return in.stop(), nil
	}
	return nil, nil
}

func (in *Interpreter) setClock(epoch uint32) []payload.Value {
	in.clk.SetEpoch(epoch)
	committed := in.clk.Now()
	dest := persist.DestinationName(time.Unix(int64(epoch), 0))

	// 每次都尝试打开，标志反映本次打开的结果
	ready := true
	if err := in.store.Open(dest); err != nil {
		in.logger.Error("open persistence session failed", zap.String("file", dest), zap.Error(err))
		ready = false
	}
	in.session = Session{
		Recording:   true,
		Destination: dest,
		Epoch:       epoch,
		OpenedAt:    committed,
		StoreReady:  ready,
	}

	var readings [payload.ReadingCount]uint32
	if e, err := in.source.Latest(); err == nil {
		readings = e.Mean.Wire()
	} else if !errors.Is(err, sensor.ErrNoSample) {
		in.logger.Warn("latest readings unavailable", zap.Error(err))
	}

	in.logger.Info("clock set, recording started",
		zap.Uint32("epoch", epoch),
		zap.String("file", dest),
		zap.Bool("store_ready", ready),
		zap.Uint32s("readings", readings[:]))

	// 回显必须读回已提交的时钟，而不是收到的值
	return []payload.Value{
		payload.ClockEcho(clock.Epoch(committed)),
		payload.Reading(readings[0]),
		payload.Reading(readings[1]),
		payload.Reading(readings[2]),
		payload.PersistenceFlag(ready),
	}
}

func (in *Interpreter) stop() []payload.Value {
	was := in.session.Recording
	in.session.Recording = false
	in.session.StoppedAt = in.clk.Now()
	if was {
		if err := in.store.Close(); err != nil {
			in.logger.Warn("close persistence session failed", zap.Error(err))
		}
	}
	in.logger.Info("recording stopped", zap.Bool("was_recording", was), zap.String("file", in.session.Destination))
	return []payload.Value{payload.StopAck(true)}
}

// Persist 记录中则写入一次窗口输出（标定后的值，边缘时钟时间戳）
func (in *Interpreter) Persist(values sensor.Triple) error {
	if !in.session.Recording || !in.session.StoreReady {
		return nil
	}
	err := in.store.Append(persist.Record{At: in.clk.Now(), Values: values})
	if err != nil {
		in.session.Failures++
		return err
	}
	in.session.Records++
	return nil
}
