package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/clock"
	"github.com/taoyao-code/fieldsync/internal/protocol/payload"
	"github.com/taoyao-code/fieldsync/internal/radio"
)

// MinSeedEpoch 2013-01-01，早于此的播种时间视为无效
const MinSeedEpoch = 1357041600

// Config 协议参数
type Config struct {
	MaxAttempts int
	Timeouts    Timeouts
	RetryDelay  time.Duration
	QueueSize   int
}

// DefaultConfig 最多 5 次尝试
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Timeouts:    DefaultTimeouts(),
		QueueSize:   16,
	}
}

type selection struct {
	id    uuid.UUID
	index int
	addr  radio.Address
}

// Option 协调器选项
type Option func(*Coordinator)

// WithReporter 诊断接收方
func WithReporter(r Reporter) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.reporter = r
		}
	}
}

// WithLogger 日志
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNow 单调时间源（确认延迟与超时计算）
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithGrid 触摸布局
func WithGrid(g Grid) Option {
	return func(c *Coordinator) { c.grid = g }
}

// Coordinator 协调器控制循环：串行执行操作员的节点选择
type Coordinator struct {
	cfg      Config
	tr       radio.Transport
	clk      clock.Clock
	table    *Table
	grid     Grid
	reporter Reporter
	logger   *zap.Logger
	now      func() time.Time

	events chan selection
}

// New 构造协调器；clk 是协调器的 RTC（可为 *clock.OffsetClock 以支持播种）
func New(cfg Config, tr radio.Transport, clk clock.Clock, table *Table, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeouts.TxStatus <= 0 {
		cfg.Timeouts.TxStatus = def.Timeouts.TxStatus
	}
	if cfg.Timeouts.Reply <= 0 {
		cfg.Timeouts.Reply = def.Timeouts.Reply
	}
	if cfg.Timeouts.StopFlag <= 0 {
		cfg.Timeouts.StopFlag = def.Timeouts.StopFlag
	}
	if cfg.Timeouts.MaxAckLatency <= 0 {
		cfg.Timeouts.MaxAckLatency = def.Timeouts.MaxAckLatency
	}
	if clk == nil {
		clk = clock.System
	}
	c := &Coordinator{
		cfg:      cfg,
		tr:       tr,
		clk:      clk,
		table:    table,
		grid:     DefaultGrid(),
		reporter: NopReporter{},
		logger:   zap.NewNop(),
		now:      time.Now,
		events:   make(chan selection, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Table 节点表（只读快照）
func (c *Coordinator) Table() *Table { return c.table }

// Grid 触摸布局
func (c *Coordinator) Grid() Grid { return c.grid }

// Config 生效的协议参数
func (c *Coordinator) Config() Config { return c.cfg }

// Select 选择节点：未记录则同步，记录中则停止。返回指令 ID。
func (c *Coordinator) Select(index int) (uuid.UUID, error) {
	n, err := c.table.reserve(index)
	if err != nil {
		return uuid.Nil, err
	}
	sel := selection{id: uuid.New(), index: index, addr: n.Address}
	select {
	case c.events <- sel:
		c.logger.Debug("node selected", zap.Int("index", index), zap.Stringer("addr", n.Address), zap.String("handshake_id", sel.id.String()))
		return sel.id, nil
	default:
		c.table.release(n.Address)
		return uuid.Nil, ErrQueueFull
	}
}

// Touch 屏幕坐标选择
func (c *Coordinator) Touch(x, y int) (int, uuid.UUID, error) {
	index, ok := c.grid.Locate(x, y)
	if !ok {
		return 0, uuid.Nil, fmt.Errorf("%w: no button at (%d,%d)", ErrOutsideGrid, x, y)
	}
	id, err := c.Select(index)
	return index, id, err
}

// Now 协调器时钟
func (c *Coordinator) Now() time.Time { return c.clk.Now() }

// SeedClock 播种协调器时钟（对应原串口 T<epoch> 消息）
func (c *Coordinator) SeedClock(epoch uint32) error {
	if epoch < MinSeedEpoch {
		return fmt.Errorf("%w: %d", ErrInvalidEpoch, epoch)
	}
	oc, ok := c.clk.(*clock.OffsetClock)
	if !ok {
		return errors.New("coordinator clock is not settable")
	}
	oc.SetEpoch(epoch)
	c.logger.Info("coordinator clock seeded", zap.Uint32("epoch", epoch))
	return nil
}

// Run 控制循环；ctx 取消时返回
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator control loop started",
		zap.Int("nodes", c.table.Len()),
		zap.Int("max_attempts", c.cfg.MaxAttempts))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator control loop stopped")
			return ctx.Err()
		case sel := <-c.events:
			c.execute(ctx, sel)
		}
	}
}

func (c *Coordinator) execute(ctx context.Context, sel selection) {
	defer c.table.release(sel.addr)
	n, ok := c.table.Lookup(sel.addr)
	if !ok {
		return
	}
	var err error
	if n.Status == StatusRecording {
		err = c.runStop(ctx, sel)
	} else {
		err = c.runSync(ctx, sel)
	}
	if err != nil {
		c.logger.Warn("command failed",
			zap.String("handshake_id", sel.id.String()),
			zap.Int("index", sel.index),
			zap.Stringer("addr", sel.addr),
			zap.Error(err))
	}
}

func (c *Coordinator) setNode(addr radio.Address, fn func(n *Node)) {
	n := c.table.update(addr, c.clk.Now(), fn)
	c.reporter.NodeChanged(n)
}

func (c *Coordinator) policy(ctx context.Context) backoff.BackOff {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.MaxAttempts-1))
	return backoff.WithContext(b, ctx)
}

func (c *Coordinator) runSync(ctx context.Context, sel selection) error {
	c.setNode(sel.addr, func(n *Node) {
		n.Status = StatusUpdating
		n.Attempts = 0
		n.LastError = ""
	})

	var last *Handshake
	attempt := 0
	op := func() error {
		attempt++
		h, err := c.syncAttempt(ctx, sel, attempt)
		last = h
		if err == nil {
			return nil
		}
		c.tr.Flush()
		c.setNode(sel.addr, func(n *Node) {
			n.Attempts = attempt
			n.LastError = err.Error()
		})
		if errors.Is(err, ErrPersistenceUnavailable) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, c.policy(ctx))
	if err == nil {
		res := last.Result()
		c.setNode(sel.addr, func(n *Node) {
			n.Status = StatusRecording
			n.Attempts = attempt
			n.LastError = ""
			n.LastVerifiedSkew = res.Skew
			n.LatestReadings = res.Readings
			n.LastSyncedEpoch = res.EchoedEpoch
		})
		return nil
	}
	return c.fail(sel, attempt, err)
}

func (c *Coordinator) runStop(ctx context.Context, sel selection) error {
	c.setNode(sel.addr, func(n *Node) {
		n.Status = StatusStopping
		n.Attempts = 0
		n.LastError = ""
	})

	attempt := 0
	op := func() error {
		attempt++
		_, err := c.stopAttempt(ctx, sel, attempt)
		if err == nil {
			return nil
		}
		c.tr.Flush()
		c.setNode(sel.addr, func(n *Node) {
			n.Attempts = attempt
			n.LastError = err.Error()
		})
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, c.policy(ctx))
	if err == nil {
		c.setNode(sel.addr, func(n *Node) {
			n.Status = StatusIdle
			n.Attempts = attempt
			n.LastError = ""
			n.LastVerifiedSkew = 0
		})
		return nil
	}
	return c.fail(sel, attempt, err)
}

func (c *Coordinator) fail(sel selection, attempt int, err error) error {
	if !errors.Is(err, ErrPersistenceUnavailable) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
	}
	c.setNode(sel.addr, func(n *Node) {
		n.Status = StatusError
		n.Attempts = attempt
		n.LastError = err.Error()
		n.LastVerifiedSkew = 0
	})
	return err
}

func (c *Coordinator) syncAttempt(ctx context.Context, sel selection, attempt int) (*Handshake, error) {
	started := c.now()
	c.tr.Flush()
	aligned, err := clock.AlignedNow(ctx, c.clk)
	if err != nil {
		return nil, err
	}
	epoch := clock.Epoch(aligned)
	// 确认时延从开始发送算起，串口写入时间计入其中
	sentAt := c.now()
	err = c.tr.Send(sel.addr, payload.SetClock(epoch).Body())
	h := NewSyncHandshake(sel.id, sel.addr, attempt, epoch, sentAt, c.cfg.Timeouts)
	if err != nil {
		h.OnTransportError(err)
		c.report(sel, h, started)
		return h, h.Err()
	}
	return h, c.drive(ctx, sel, h, started)
}

func (c *Coordinator) stopAttempt(ctx context.Context, sel selection, attempt int) (*Handshake, error) {
	started := c.now()
	c.tr.Flush()
	sentAt := c.now()
	err := c.tr.Send(sel.addr, payload.Stop().Body())
	h := NewStopHandshake(sel.id, sel.addr, attempt, sentAt, c.cfg.Timeouts)
	if err != nil {
		h.OnTransportError(err)
		c.report(sel, h, started)
		return h, h.Err()
	}
	return h, c.drive(ctx, sel, h, started)
}

// drive 把链路事件喂给状态机直到结束
func (c *Coordinator) drive(ctx context.Context, sel selection, h *Handshake, started time.Time) error {
	c.table.attach(sel.addr, h)
	for !h.Done() {
		remaining := h.Deadline().Sub(c.now())
		if remaining <= 0 {
			h.OnTimeout()
			continue
		}
		resp, err := c.tr.TryReceive(ctx, remaining)
		now := c.now()
		switch {
		case err == nil:
			switch resp.Kind {
			case radio.ResponseTxStatus:
				h.OnTxStatus(resp.Status, now)
			case radio.ResponseData:
				if !h.OnFrame(resp.Source, resp.Value(), now, c.clk.Now()) {
					c.logger.Debug("stale frame dropped",
						zap.Stringer("src", resp.Source),
						zap.Uint32("value", resp.Value()),
						zap.Stringer("phase", h.Phase()))
				}
			}
		case errors.Is(err, radio.ErrTimeout):
			// 剩余时间用尽时由下一轮判定超时
			if !c.now().Before(h.Deadline()) {
				h.OnTimeout()
			}
		case ctx.Err() != nil:
			h.OnTransportError(ctx.Err())
			c.report(sel, h, started)
			return ctx.Err()
		default:
			h.OnTransportError(err)
		}
	}
	if h.Command == CommandStop && !h.Result().FlagSeen {
		c.logger.Info("stop acknowledged without recording flag", zap.Stringer("addr", sel.addr))
	}
	c.report(sel, h, started)
	return h.Err()
}

func (c *Coordinator) report(sel selection, h *Handshake, started time.Time) {
	res := h.Result()
	a := AttemptReport{
		Result:      res,
		Index:       sel.index,
		MaxAttempts: c.cfg.MaxAttempts,
		Reason:      res.Reason(),
		StartedAt:   started,
		FinishedAt:  c.now(),
	}
	if n, ok := c.table.Lookup(sel.addr); ok {
		a.Name = n.Name
	}
	if res.Err != nil {
		a.Error = res.Err.Error()
	}
	c.reporter.AttemptFinished(a)
}
