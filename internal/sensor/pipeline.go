package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Channels 模拟通道数
const Channels = 3

const (
	DefaultSpacing = 2 * time.Millisecond
	DefaultWindow  = 100 * time.Millisecond
)

// ErrNoSample 流水线尚未输出过任何三元组
var ErrNoSample = errors.New("sensor: no averaged sample yet")

// Sample 一次三通道原始采样
type Sample [Channels]uint16

// Triple 一个窗口的三通道均值（原始计数）
type Triple [Channels]float64

// Wire 截断为线上读数
func (t Triple) Wire() [Channels]uint32 {
	var out [Channels]uint32
	for i, v := range t {
		if v < 0 {
			continue
		}
		out[i] = uint32(v)
	}
	return out
}

// Emission 一次窗口输出
type Emission struct {
	At      time.Time
	Mean    Triple
	Samples int
}

// ADC 模拟量采样器
type ADC interface {
	Sample() (Sample, error)
}

// Option 流水线选项
type Option func(*Pipeline)

// WithSpacing 最小采样间隔
func WithSpacing(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.spacing = d
		}
	}
}

// WithWindow 平均窗口
func WithWindow(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.window = d
		}
	}
}

// WithOnEmit 每次输出时回调（持久化、指标）
func WithOnEmit(fn func(Emission)) Option {
	return func(p *Pipeline) { p.onEmit = fn }
}

// Pipeline 过采样平均流水线：按最小间隔累加，窗口边界输出均值并清零。
//
// Step 只在设备控制循环中调用；Latest 可并发读取。
type Pipeline struct {
	adc     ADC
	spacing time.Duration
	window  time.Duration
	onEmit  func(Emission)

	sums        [Channels]float64
	counts      [Channels]int
	lastSample  time.Time
	windowStart time.Time
	sampleErrs  int

	mu     sync.RWMutex
	latest Emission
	ok     bool
}

// NewPipeline 构造流水线
func NewPipeline(adc ADC, opts ...Option) *Pipeline {
	p := &Pipeline{
		adc:     adc,
		spacing: DefaultSpacing,
		window:  DefaultWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Step 推进一次：间隔已到则采样，窗口已满则输出。返回本次是否输出。
func (p *Pipeline) Step(now time.Time) (bool, error) {
	if p.windowStart.IsZero() {
		p.windowStart = now
	}
	var err error
	if p.lastSample.IsZero() || now.Sub(p.lastSample) >= p.spacing {
		p.lastSample = now
		s, serr := p.adc.Sample()
		if serr != nil {
			p.sampleErrs++
			err = fmt.Errorf("sample adc: %w", serr)
		} else {
			p.Add(s)
		}
	}
	if now.Sub(p.windowStart) >= p.window {
		p.windowStart = now
		return p.emit(now), err
	}
	return false, err
}

// Add 累加一次采样
func (p *Pipeline) Add(s Sample) {
	for i, v := range s {
		p.sums[i] += float64(v)
		p.counts[i]++
	}
}

// Flush 立即输出当前窗口（无样本时不输出）
func (p *Pipeline) Flush(now time.Time) bool {
	p.windowStart = now
	return p.emit(now)
}

func (p *Pipeline) emit(now time.Time) bool {
	if p.counts[0] == 0 {
		return false
	}
	e := Emission{At: now, Samples: p.counts[0]}
	for i := range p.sums {
		if p.counts[i] > 0 {
			e.Mean[i] = p.sums[i] / float64(p.counts[i])
		}
		p.sums[i] = 0
		p.counts[i] = 0
	}

	p.mu.Lock()
	p.latest = e
	p.ok = true
	p.mu.Unlock()

	if p.onEmit != nil {
		p.onEmit(e)
	}
	return true
}

// Latest 最近一次输出
func (p *Pipeline) Latest() (Emission, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.ok {
		return Emission{}, ErrNoSample
	}
	return p.latest, nil
}

// Pending 当前窗口已累加的样本数
func (p *Pipeline) Pending() int { return p.counts[0] }

// SampleErrors 采样失败次数
func (p *Pipeline) SampleErrors() int { return p.sampleErrs }
