package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taoyao-code/fieldsync/internal/protocol/payload"
	"github.com/taoyao-code/fieldsync/internal/radio"
)

// Command 指令类型
type Command uint8

const (
	CommandSync Command = iota + 1
	CommandStop
)

func (c Command) String() string {
	switch c {
	case CommandSync:
		return "sync"
	case CommandStop:
		return "stop"
	default:
		return "unknown"
	}
}

func (c Command) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Command) UnmarshalText(b []byte) error {
	switch string(b) {
	case "sync":
		*c = CommandSync
	case "stop":
		*c = CommandStop
	default:
		return fmt.Errorf("unknown command %q", b)
	}
	return nil
}

// Phase 握手阶段
type Phase uint8

const (
	PhaseAwaitTxStatus Phase = iota + 1 // 等待本地模块的发送状态
	PhaseAwaitReply                     // 按位置读取 5 帧同步回复
	PhaseAwaitStopFlag                  // 停止已确认，等待可选的记录状态标志
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitTxStatus:
		return "await_tx_status"
	case PhaseAwaitReply:
		return "await_reply"
	case PhaseAwaitStopFlag:
		return "await_stop_flag"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Timeouts 每一步等待的上限
type Timeouts struct {
	TxStatus      time.Duration
	Reply         time.Duration
	StopFlag      time.Duration
	MaxAckLatency time.Duration
}

// DefaultTimeouts 1s 等待，确认延迟 20ms
func DefaultTimeouts() Timeouts {
	return Timeouts{
		TxStatus:      time.Second,
		Reply:         time.Second,
		StopFlag:      time.Second,
		MaxAckLatency: 20 * time.Millisecond,
	}
}

// Handshake 单次尝试的有限状态机。由驱动循环喂入链路事件，自身不做 I/O。
type Handshake struct {
	ID      uuid.UUID
	Command Command
	Address radio.Address
	Attempt int

	timeouts Timeouts
	phase    Phase
	deadline time.Time

	sentAt     time.Time
	sentEpoch  uint32
	ackLatency time.Duration
	acked      bool

	pos       int
	echo      uint32
	skew      time.Duration
	skewValid bool
	readings  [payload.ReadingCount]uint32
	flag      bool
	flagSeen  bool
	stale     int

	err error
}

// NewSyncHandshake sentEpoch 为对齐后发出的时间戳，sentAt 为发出时刻（单调时钟）
func NewSyncHandshake(id uuid.UUID, addr radio.Address, attempt int, sentEpoch uint32, sentAt time.Time, to Timeouts) *Handshake {
	return &Handshake{
		ID:        id,
		Command:   CommandSync,
		Address:   addr,
		Attempt:   attempt,
		timeouts:  to,
		phase:     PhaseAwaitTxStatus,
		deadline:  sentAt.Add(to.TxStatus),
		sentAt:    sentAt,
		sentEpoch: sentEpoch,
	}
}

// NewStopHandshake 停止指令
func NewStopHandshake(id uuid.UUID, addr radio.Address, attempt int, sentAt time.Time, to Timeouts) *Handshake {
	return &Handshake{
		ID:       id,
		Command:  CommandStop,
		Address:  addr,
		Attempt:  attempt,
		timeouts: to,
		phase:    PhaseAwaitTxStatus,
		deadline: sentAt.Add(to.TxStatus),
		sentAt:   sentAt,
	}
}

func (h *Handshake) Phase() Phase        { return h.phase }
func (h *Handshake) Done() bool          { return h.phase == PhaseDone }
func (h *Handshake) Deadline() time.Time { return h.deadline }

// Err 失败原因；未结束或成功时为 nil
func (h *Handshake) Err() error { return h.err }

// OnTxStatus 本地模块回报发送状态
func (h *Handshake) OnTxStatus(status radio.TxStatus, now time.Time) {
	if h.phase != PhaseAwaitTxStatus {
		return
	}
	h.ackLatency = now.Sub(h.sentAt)
	if status != radio.TxSuccess {
		h.fail(fmt.Errorf("%w: %s", ErrDeliveryFailed, status))
		return
	}
	h.acked = true
	if h.Command == CommandStop {
		// 发送成功即停止成功；随后的标志帧只作诊断
		h.phase = PhaseAwaitStopFlag
		h.deadline = now.Add(h.timeouts.StopFlag)
		return
	}
	if h.ackLatency >= h.timeouts.MaxAckLatency {
		h.fail(fmt.Errorf("%w: %s >= %s", ErrLatencyExceeded, h.ackLatency, h.timeouts.MaxAckLatency))
		return
	}
	h.phase = PhaseAwaitReply
	h.deadline = now.Add(h.timeouts.Reply)
}

// OnFrame 收到数据帧；local 为协调器时钟读数。返回该帧是否被消费。
func (h *Handshake) OnFrame(src radio.Address, raw uint32, now, local time.Time) bool {
	if src != h.Address {
		h.stale++
		return false
	}
	switch h.phase {
	case PhaseAwaitReply:
		return h.onReply(raw, now, local)
	case PhaseAwaitStopFlag:
		v, err := payload.ParseStopReply(raw)
		if err != nil {
			h.stale++
			return false
		}
		h.flag = v.Flag()
		h.flagSeen = true
		h.phase = PhaseDone
		return true
	default:
		// 等待发送状态期间到达的数据帧来自之前的尝试
		h.stale++
		return false
	}
}

func (h *Handshake) onReply(raw uint32, now, local time.Time) bool {
	v, err := payload.ParseSyncReply(h.pos, raw)
	if err != nil {
		h.fail(err)
		return true
	}
	switch v.Kind {
	case payload.KindClockEcho:
		h.echo = v.Raw
		h.skew = time.Duration(local.Unix()-int64(v.Raw)) * time.Second
		h.skewValid = true
	case payload.KindReading:
		h.readings[h.pos-1] = v.Raw
	case payload.KindPersistenceFlag:
		h.flag = v.Flag()
		h.flagSeen = true
	}
	h.pos++
	h.deadline = now.Add(h.timeouts.Reply)
	if h.pos < payload.SyncReplyLen {
		return true
	}
	switch {
	case !h.flag:
		h.fail(ErrPersistenceUnavailable)
	case h.skew != 0:
		h.fail(fmt.Errorf("%w: %s", ErrSkewMismatch, h.skew))
	default:
		h.phase = PhaseDone
	}
	return true
}

// OnTimeout 当前步骤超时
func (h *Handshake) OnTimeout() {
	switch h.phase {
	case PhaseAwaitTxStatus:
		h.fail(fmt.Errorf("await tx status: %w", radio.ErrTimeout))
	case PhaseAwaitReply:
		h.fail(fmt.Errorf("await reply frame %d: %w", h.pos, radio.ErrTimeout))
	case PhaseAwaitStopFlag:
		h.phase = PhaseDone
	}
}

// OnTransportError 链路错误
func (h *Handshake) OnTransportError(err error) {
	switch h.phase {
	case PhaseDone:
	case PhaseAwaitStopFlag:
		h.phase = PhaseDone
	default:
		h.fail(err)
	}
}

func (h *Handshake) fail(err error) {
	h.err = err
	h.phase = PhaseDone
}

// Succeeded 是否成功结束
func (h *Handshake) Succeeded() bool { return h.Done() && h.err == nil }

// Permanent 失败不可通过重试修复
func (h *Handshake) Permanent() bool { return errors.Is(h.err, ErrPersistenceUnavailable) }

// Result 尝试结果与诊断
type Result struct {
	ID          uuid.UUID                    `json:"id"`
	Command     Command                      `json:"command"`
	Address     radio.Address                `json:"address"`
	Attempt     int                          `json:"attempt"`
	Acked       bool                         `json:"acked"`
	AckLatency  time.Duration                `json:"ack_latency"`
	SentEpoch   uint32                       `json:"sent_epoch,omitempty"`
	EchoedEpoch uint32                       `json:"echoed_epoch,omitempty"`
	Skew        time.Duration                `json:"skew"`
	SkewValid   bool                         `json:"skew_valid"`
	Readings    [payload.ReadingCount]uint32 `json:"readings"`
	Frames      int                          `json:"frames"`
	Flag        bool                         `json:"flag"`
	FlagSeen    bool                         `json:"flag_seen"`
	Stale       int                          `json:"stale"`
	Err         error                        `json:"-"`
}

// Reason 失败原因的短标签（指标与日志用）
func (r Result) Reason() string {
	switch {
	case r.Err == nil:
		return "ok"
	case errors.Is(r.Err, radio.ErrTimeout):
		return "timeout"
	case errors.Is(r.Err, ErrDeliveryFailed):
		return "delivery_failed"
	case errors.Is(r.Err, ErrLatencyExceeded):
		return "latency_exceeded"
	case errors.Is(r.Err, ErrSkewMismatch):
		return "skew_mismatch"
	case errors.Is(r.Err, ErrPersistenceUnavailable):
		return "persistence_unavailable"
	case errors.Is(r.Err, payload.ErrDesync):
		return "desync"
	case radio.IsTransportError(r.Err):
		return "transport_error"
	default:
		return "error"
	}
}

// Result 当前诊断快照
func (h *Handshake) Result() Result {
	return Result{
		ID:          h.ID,
		Command:     h.Command,
		Address:     h.Address,
		Attempt:     h.Attempt,
		Acked:       h.acked,
		AckLatency:  h.ackLatency,
		SentEpoch:   h.sentEpoch,
		EchoedEpoch: h.echo,
		Skew:        h.skew,
		SkewValid:   h.skewValid,
		Readings:    h.readings,
		Frames:      h.pos,
		Flag:        h.flag,
		FlagSeen:    h.flagSeen,
		Stale:       h.stale,
		Err:         h.err,
	}
}
