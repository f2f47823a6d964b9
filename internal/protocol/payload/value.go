package payload

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommand 既不是时间戳也不是停止指令的下行值
	ErrUnknownCommand = errors.New("unknown command value")
	// ErrDesync 回复帧的幅值与其在序列中的位置不符
	ErrDesync = errors.New("reply sequence desynchronized")
)

// Kind 应用层值类型。线上仍是 4 字节大端整数，类型由方向与位置决定。
type Kind uint8

const (
	KindSetClock        Kind = iota + 1 // 协调器 → 边缘：设置时钟并开始记录
	KindStop                            // 协调器 → 边缘：停止记录
	KindClockEcho                       // 边缘 → 协调器：回读的已提交时钟
	KindReading                         // 边缘 → 协调器：平均后的传感器读数
	KindPersistenceFlag                 // 边缘 → 协调器：存储就绪标志
	KindStopAck                         // 边缘 → 协调器：已停止记录标志
)

func (k Kind) String() string {
	switch k {
	case KindSetClock:
		return "set_clock"
	case KindStop:
		return "stop"
	case KindClockEcho:
		return "clock_echo"
	case KindReading:
		return "reading"
	case KindPersistenceFlag:
		return "persistence_flag"
	case KindStopAck:
		return "stop_ack"
	default:
		return "unknown"
	}
}

// Value 带类型标签的帧体值
type Value struct {
	Kind Kind
	Raw  uint32
}

func SetClock(epoch uint32) Value   { return Value{Kind: KindSetClock, Raw: epoch} }
func Stop() Value                   { return Value{Kind: KindStop} }
func ClockEcho(epoch uint32) Value  { return Value{Kind: KindClockEcho, Raw: epoch} }
func Reading(v uint32) Value        { return Value{Kind: KindReading, Raw: v} }
func PersistenceFlag(ok bool) Value { return Value{Kind: KindPersistenceFlag, Raw: boolRaw(ok)} }
func StopAck(stopped bool) Value    { return Value{Kind: KindStopAck, Raw: boolRaw(stopped)} }
func (v Value) Flag() bool          { return v.Raw == 1 }
func (v Value) Body() [Size]byte    { return Encode(v.Raw) }
func (v Value) String() string      { return fmt.Sprintf("%s(%d)", v.Kind, v.Raw) }

// ParseCommand 边缘侧对下行帧分类
func ParseCommand(raw uint32) (Value, error) {
	switch {
	case IsEpoch(raw):
		return SetClock(raw), nil
	case raw == 0:
		return Stop(), nil
	default:
		return Value{Raw: raw}, fmt.Errorf("%w: %d", ErrUnknownCommand, raw)
	}
}

// SyncReplyLen 同步回复序列长度：时钟回显 + 3 个读数 + 存储标志
const SyncReplyLen = 5

// ReadingCount 每次回复携带的读数个数
const ReadingCount = 3

// ParseSyncReply 协调器侧按位置对同步回复帧分类
//
// 位置 0 必须是时间戳；位置 1..3 必须是非时间戳读数；位置 4 必须是 0/1。
func ParseSyncReply(pos int, raw uint32) (Value, error) {
	switch {
	case pos == 0:
		if !IsEpoch(raw) {
			return Value{Raw: raw}, fmt.Errorf("%w: position %d expected clock echo, got %d", ErrDesync, pos, raw)
		}
		return ClockEcho(raw), nil
	case pos >= 1 && pos <= ReadingCount:
		if IsEpoch(raw) {
			return Value{Raw: raw}, fmt.Errorf("%w: position %d expected reading, got epoch %d", ErrDesync, pos, raw)
		}
		return Reading(raw), nil
	case pos == SyncReplyLen-1:
		if raw > 1 {
			return Value{Raw: raw}, fmt.Errorf("%w: position %d expected flag, got %d", ErrDesync, pos, raw)
		}
		return PersistenceFlag(raw == 1), nil
	default:
		return Value{Raw: raw}, fmt.Errorf("%w: position %d out of range", ErrDesync, pos)
	}
}

// ParseStopReply 协调器侧解析停止指令的记录状态标志
func ParseStopReply(raw uint32) (Value, error) {
	if raw > 1 {
		return Value{Raw: raw}, fmt.Errorf("%w: expected stop flag, got %d", ErrDesync, raw)
	}
	return StopAck(raw == 1), nil
}

func boolRaw(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
