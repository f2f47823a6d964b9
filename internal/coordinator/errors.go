package coordinator

import "errors"

var (
	// ErrDeliveryFailed 发送状态不是成功（未确认、信道忙、被清除）
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrLatencyExceeded 发送确认到达过慢
	ErrLatencyExceeded = errors.New("tx status latency exceeded")
	// ErrSkewMismatch 握手完成但回显时钟与本地不一致
	ErrSkewMismatch = errors.New("clock skew mismatch")
	// ErrPersistenceUnavailable 边缘报告存储不可用，不重试
	ErrPersistenceUnavailable = errors.New("edge persistence unavailable")
	// ErrRetriesExhausted 重试次数用尽
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrCommandInFlight 节点已有排队或执行中的指令
	ErrCommandInFlight = errors.New("command already in flight for node")
	// ErrUnknownNode 节点不存在
	ErrUnknownNode = errors.New("unknown node")
	// ErrOutsideGrid 触摸点不在任何按钮内（含格线）
	ErrOutsideGrid = errors.New("touch outside grid")
	// ErrQueueFull 选择事件队列已满
	ErrQueueFull = errors.New("selection queue full")
	// ErrInvalidEpoch 播种时间早于 2013-01-01
	ErrInvalidEpoch = errors.New("invalid epoch")
)
