package radio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taoyao-code/fieldsync/internal/protocol/payload"
)

// rxCapacity 每个端点的接收缓冲容量，满时覆盖最旧帧
const rxCapacity = 64

// Medium 进程内共享信道：模拟半双工点对点链路，供仿真与联调测试使用
type Medium struct {
	mu        sync.RWMutex
	endpoints map[Address]*Endpoint
	offline   map[Address]bool
	muted     map[Address]bool // 不上报发送状态的端点
	drops     map[Address]int  // 目标地址待丢弃的数据帧数
	delay     time.Duration    // 发送状态延迟
	now       func() time.Time
}

// MediumOption Medium 配置项
type MediumOption func(*Medium)

// WithTxStatusDelay 设置发送状态上报延迟（模拟链路往返时间）
func WithTxStatusDelay(d time.Duration) MediumOption {
	return func(m *Medium) {
		if d > 0 {
			m.delay = d
		}
	}
}

// WithMediumNow 注入时钟
func WithMediumNow(now func() time.Time) MediumOption {
	return func(m *Medium) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMedium 创建共享信道
func NewMedium(opts ...MediumOption) *Medium {
	m := &Medium{
		endpoints: make(map[Address]*Endpoint),
		offline:   make(map[Address]bool),
		muted:     make(map[Address]bool),
		drops:     make(map[Address]int),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach 在信道上注册一个地址并返回其端点；重复注册返回已有端点
func (m *Medium) Attach(addr Address) *Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ep, ok := m.endpoints[addr]; ok {
		return ep
	}
	ep := &Endpoint{
		addr:   addr,
		medium: m,
		rx:     make(chan Response, rxCapacity),
		closed: make(chan struct{}),
	}
	m.endpoints[addr] = ep
	return ep
}

// SetOnline 模拟节点上电/掉电；离线节点收不到帧，发送方得到 NoAck
func (m *Medium) SetOnline(addr Address, online bool) {
	m.mu.Lock()
	m.offline[addr] = !online
	m.mu.Unlock()
}

// MuteTxStatus 模拟本地射频模块不上报发送状态
func (m *Medium) MuteTxStatus(addr Address, muted bool) {
	m.mu.Lock()
	m.muted[addr] = muted
	m.mu.Unlock()
}

// DropNext 发往 to 的后 n 个数据帧在 MAC 确认后丢失（确认成功但应用数据丢失）
func (m *Medium) DropNext(to Address, n int) {
	m.mu.Lock()
	m.drops[to] = n
	m.mu.Unlock()
}

func (m *Medium) route(from Address, to Address, body [payload.Size]byte) {
	m.mu.Lock()
	src := m.endpoints[from]
	dst, ok := m.endpoints[to]
	delivered := ok && !m.offline[to] && !m.offline[from]
	muted := m.muted[from]
	delay := m.delay
	lost := false
	if delivered && m.drops[to] > 0 {
		m.drops[to]--
		lost = true
	}
	m.mu.Unlock()

	deliver := func() {
		status := TxNoAck
		if delivered {
			status = TxSuccess
		}
		if src != nil && !muted {
			src.deliver(Response{Kind: ResponseTxStatus, Status: status, At: m.now()})
		}
		if delivered && !lost {
			dst.deliver(Response{Kind: ResponseData, Source: from, Body: body, At: m.now()})
		}
	}
	if delay > 0 {
		time.AfterFunc(delay, deliver)
		return
	}
	deliver()
}

// Endpoint 信道上的一个地址，实现 Transport
type Endpoint struct {
	addr      Address
	medium    *Medium
	rx        chan Response
	closed    chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*Endpoint)(nil)

// Address 端点地址
func (e *Endpoint) Address() Address { return e.addr }

// Send 发送一帧到目标地址
func (e *Endpoint) Send(addr Address, body [payload.Size]byte) error {
	select {
	case <-e.closed:
		return &TransportError{Op: "send", Err: ErrClosed}
	default:
	}
	e.medium.route(e.addr, addr, body)
	return nil
}

// TryReceive 等待一帧
func (e *Endpoint) TryReceive(ctx context.Context, timeout time.Duration) (Response, error) {
	select {
	case r := <-e.rx:
		return r, nil
	default:
	}
	if timeout <= 0 {
		return Response{}, ErrTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-e.rx:
		return r, nil
	case <-timer.C:
		return Response{}, ErrTimeout
	case <-e.closed:
		return Response{}, &TransportError{Op: "receive", Err: ErrClosed}
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Flush 丢弃缓冲中的全部帧
func (e *Endpoint) Flush() int {
	n := 0
	for {
		select {
		case <-e.rx:
			n++
		default:
			return n
		}
	}
}

// Close 关闭端点
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

// Alive 端点未关闭
func (e *Endpoint) Alive() bool {
	select {
	case <-e.closed:
		return false
	default:
		return true
	}
}

// Inject 直接向端点注入一帧（测试与仿真用）
func (e *Endpoint) Inject(r Response) { e.deliver(r) }

func (e *Endpoint) deliver(r Response) {
	for {
		select {
		case e.rx <- r:
			return
		default:
		}
		// 满了：丢最旧一帧
		select {
		case <-e.rx:
		default:
		}
	}
}

func (e *Endpoint) String() string { return fmt.Sprintf("endpoint(%s)", e.addr) }
