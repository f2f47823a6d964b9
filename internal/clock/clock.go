package clock

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Clock 时间源
type Clock interface {
	Now() time.Time
}

// Func 函数适配为 Clock
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// System 系统时钟
var System Clock = Func(time.Now)

// OffsetClock 可设置的时钟：在底层时钟上叠加偏移量（边缘设备的 RTC）
type OffsetClock struct {
	base Clock

	mu     sync.RWMutex
	offset time.Duration
	set    bool
}

// NewOffsetClock base 为 nil 时使用系统时钟
func NewOffsetClock(base Clock) *OffsetClock {
	if base == nil {
		base = System
	}
	return &OffsetClock{base: base}
}

// Now 当前时间
func (c *OffsetClock) Now() time.Time {
	c.mu.RLock()
	off := c.offset
	c.mu.RUnlock()
	return c.base.Now().Add(off)
}

// Set 把时钟调整到 t
func (c *OffsetClock) Set(t time.Time) {
	c.mu.Lock()
	c.offset = t.Sub(c.base.Now())
	c.set = true
	c.mu.Unlock()
}

// SetEpoch 按整秒时间戳设置
func (c *OffsetClock) SetEpoch(epoch uint32) {
	c.Set(time.Unix(int64(epoch), 0))
}

// IsSet 是否被设置过
func (c *OffsetClock) IsSet() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set
}

// Epoch 整秒时间戳
func Epoch(t time.Time) uint32 {
	return uint32(t.Unix())
}

// AlignedNow 自旋采样时钟，直到整秒值发生变化，返回变化后的读数。
//
// 最坏阻塞约 1 秒；永远不会返回进入时所在的那一秒。
func AlignedNow(ctx context.Context, clk Clock) (time.Time, error) {
	if clk == nil {
		clk = System
	}
	entry := clk.Now().Unix()
	for {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		now := clk.Now()
		if now.Unix() != entry {
			return now, nil
		}
		runtime.Gosched()
	}
}
