package xbee

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/protocol/payload"
	"github.com/taoyao-code/fieldsync/internal/radio"
)

const queueCapacity = 64

// Config 串口配置
type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// Open 打开串口并启动 XBee 链路
func Open(cfg Config, logger *zap.Logger) (*Transport, error) {
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout})
	if err != nil {
		return nil, &radio.TransportError{Op: "open", Err: fmt.Errorf("open serial port %s: %w", cfg.Port, err)}
	}
	return New(port, logger), nil
}

type item struct {
	resp radio.Response
	err  error
}

// Transport 基于 XBee API 帧的无线链路，实现 radio.Transport
type Transport struct {
	port   io.ReadWriteCloser
	logger *zap.Logger

	wmu     sync.Mutex
	frameID byte
	// pending 最近一次发送的帧 ID，只接受与之匹配的发送状态
	pending atomic.Uint32

	queue     chan item
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	readErr   atomic.Value // error

	dropped atomic.Int64
}

var _ radio.Transport = (*Transport)(nil)

// New 在任意字节流上构建链路（测试可传入 net.Pipe）
func New(port io.ReadWriteCloser, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{
		port:   port,
		logger: logger,
		queue:  make(chan item, queueCapacity),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Send 发送 Tx16 请求；帧 ID 非零，以便模块回报发送状态
func (t *Transport) Send(addr radio.Address, body [payload.Size]byte) error {
	select {
	case <-t.done:
		return &radio.TransportError{Op: "send", Err: radio.ErrClosed}
	default:
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	t.frameID++
	if t.frameID == 0 {
		t.frameID = 1
	}
	t.pending.Store(uint32(t.frameID))
	frame := Wrap(Tx16Request(t.frameID, uint16(addr), 0x00, body[:]))
	if _, err := t.port.Write(frame); err != nil {
		return &radio.TransportError{Op: "send", Err: err}
	}
	return nil
}

// TryReceive 等待一条响应
func (t *Transport) TryReceive(ctx context.Context, timeout time.Duration) (radio.Response, error) {
	select {
	case it := <-t.queue:
		return it.resp, it.err
	default:
	}
	if timeout <= 0 {
		return radio.Response{}, radio.ErrTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case it := <-t.queue:
		return it.resp, it.err
	case <-timer.C:
		return radio.Response{}, radio.ErrTimeout
	case <-t.done:
		return radio.Response{}, t.closedErr()
	case <-ctx.Done():
		return radio.Response{}, ctx.Err()
	}
}

// Flush 丢弃缓冲中全部响应（包括解析错误）
func (t *Transport) Flush() int {
	n := 0
	for {
		select {
		case <-t.queue:
			n++
		default:
			return n
		}
	}
}

// Dropped 因形状不符或发送状态过期被丢弃的帧数
func (t *Transport) Dropped() int64 { return t.dropped.Load() }

// Close 关闭串口
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.stop()
		err = t.port.Close()
	})
	return err
}

// Alive 读循环是否仍在运行（健康检查用）
func (t *Transport) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return t.readErr.Load() == nil
	}
}

func (t *Transport) stop() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *Transport) closedErr() error {
	if v := t.readErr.Load(); v != nil {
		return &radio.TransportError{Op: "receive", Err: v.(error)}
	}
	return &radio.TransportError{Op: "receive", Err: radio.ErrClosed}
}

func (t *Transport) readLoop() {
	var dec Decoder
	buf := make([]byte, 128)
	for {
		n, err := t.port.Read(buf)
		for i := 0; i < n; i++ {
			frame, derr := dec.Feed(buf[i])
			if derr != nil {
				code := 0
				var de *DecodeError
				if errors.As(derr, &de) {
					code = de.Code
				}
				t.push(item{err: &radio.TransportError{Op: "receive", Code: code, Err: derr}})
				continue
			}
			if frame != nil {
				t.handleFrame(frame)
			}
		}
		if err != nil {
			// 串口读超时（tarm/serial 返回 EOF）不是错误
			if errors.Is(err, io.EOF) {
				select {
				case <-t.done:
					return
				default:
				}
				if n == 0 {
					time.Sleep(time.Millisecond)
				}
				continue
			}
			select {
			case <-t.done:
			default:
				t.readErr.Store(err)
				t.logger.Error("xbee read loop stopped", zap.Error(err))
				t.stop()
			}
			return
		}
	}
}

func (t *Transport) handleFrame(frame APIFrame) {
	now := time.Now()
	switch frame.ID() {
	case APITxStatus:
		st, err := ParseTxStatus(frame)
		if err != nil {
			t.dropped.Add(1)
			return
		}
		if uint32(st.FrameID) != t.pending.Load() {
			// 之前尝试的迟到状态
			t.dropped.Add(1)
			t.logger.Debug("xbee stale tx status dropped", zap.Uint8("frame_id", st.FrameID), zap.Uint32("pending", t.pending.Load()))
			return
		}
		t.push(item{resp: radio.Response{Kind: radio.ResponseTxStatus, Status: radio.TxStatus(st.Status), At: now}})
	case APIRx16:
		rx, err := ParseRx16(frame)
		if err != nil || len(rx.Data) != payload.Size {
			t.dropped.Add(1)
			t.logger.Debug("xbee rx frame dropped", zap.Int("len", len(rx.Data)), zap.Error(err))
			return
		}
		var body [payload.Size]byte
		copy(body[:], rx.Data)
		t.push(item{resp: radio.Response{Kind: radio.ResponseData, Source: radio.Address(rx.Source), Body: body, At: now}})
	default:
		// 调制解调器状态等其他 API 帧不参与协议
		t.dropped.Add(1)
		t.logger.Debug("xbee api frame ignored", zap.Uint8("api_id", frame.ID()))
	}
}

func (t *Transport) push(it item) {
	for {
		select {
		case t.queue <- it:
			return
		default:
		}
		select {
		case <-t.queue:
		default:
		}
	}
}
