package radio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taoyao-code/fieldsync/internal/protocol/payload"
)

// Address 16 位节点地址
type Address uint16

func (a Address) String() string { return fmt.Sprintf("0x%04X", uint16(a)) }

// CoordinatorAddress 协调器固定地址（边缘回复的目标）
const CoordinatorAddress Address = 0x0000

// Frame 一次无线收发的最小单元
type Frame struct {
	Address Address
	Body    [payload.Size]byte
}

// Value 解码帧体
func (f Frame) Value() uint32 { return payload.Decode(f.Body) }

// TxStatus 发送状态（沿用 XBee TX Status 编码）
type TxStatus uint8

const (
	TxSuccess    TxStatus = 0x00
	TxNoAck      TxStatus = 0x01
	TxCCAFailure TxStatus = 0x02
	TxPurged     TxStatus = 0x03
)

func (s TxStatus) String() string {
	switch s {
	case TxSuccess:
		return "success"
	case TxNoAck:
		return "no_ack"
	case TxCCAFailure:
		return "cca_failure"
	case TxPurged:
		return "purged"
	default:
		return fmt.Sprintf("status_0x%02X", uint8(s))
	}
}

// ResponseKind 入站响应类别
type ResponseKind uint8

const (
	ResponseData     ResponseKind = iota + 1 // 应用数据帧
	ResponseTxStatus                         // 发送状态帧
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseData:
		return "data"
	case ResponseTxStatus:
		return "tx_status"
	default:
		return "unknown"
	}
}

// Response TryReceive 的返回值
type Response struct {
	Kind   ResponseKind
	Source Address  // 仅 ResponseData 有效
	Body   [payload.Size]byte
	Status TxStatus // 仅 ResponseTxStatus 有效
	At     time.Time
}

// Value 解码数据帧帧体
func (r Response) Value() uint32 { return payload.Decode(r.Body) }

// ErrTimeout 超时内没有收到任何帧
var ErrTimeout = errors.New("radio: receive timeout")

// ErrClosed 链路已关闭
var ErrClosed = errors.New("radio: transport closed")

// TransportError 链路配置错误或断开
type TransportError struct {
	Op   string
	Code int
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("radio %s failed (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("radio %s failed (code %d)", e.Op, e.Code)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError 判断是否为链路错误
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Transport 无线链路适配器。重试策略由上层状态机负责，本层从不重试。
type Transport interface {
	// Send 入队一帧，立即返回；发送状态稍后以 ResponseTxStatus 上报
	Send(addr Address, body [payload.Size]byte) error
	// TryReceive 最多阻塞 timeout 等待一帧
	TryReceive(ctx context.Context, timeout time.Duration) (Response, error)
	// Flush 丢弃接收缓冲中全部帧，返回丢弃数
	Flush() int
}
