package edge

import (
	"fmt"
	"time"

	"github.com/taoyao-code/fieldsync/internal/protocol/payload"
	"github.com/taoyao-code/fieldsync/internal/radio"
)

// DefaultReplySpacing 半双工链路的帧间隔
const DefaultReplySpacing = 250 * time.Millisecond

// Sequencer 非阻塞回复序列：按固定顺序、最小间隔逐帧发送，每帧后清空接收缓冲。
type Sequencer struct {
	tr      radio.Transport
	dest    radio.Address
	spacing time.Duration

	queue    []payload.Value
	lastSent time.Time
}

func NewSequencer(tr radio.Transport, dest radio.Address, spacing time.Duration) *Sequencer {
	if spacing <= 0 {
		spacing = DefaultReplySpacing
	}
	return &Sequencer{tr: tr, dest: dest, spacing: spacing}
}

// Replace 以新序列替换尚未发出的帧
func (s *Sequencer) Replace(values ...payload.Value) {
	s.queue = append(s.queue[:0:0], values...)
}

// Pending 待发帧数
func (s *Sequencer) Pending() int { return len(s.queue) }

// Step 到时则发出下一帧；返回发出的值
func (s *Sequencer) Step(now time.Time) (payload.Value, bool, error) {
	if len(s.queue) == 0 {
		return payload.Value{}, false, nil
	}
	if !s.lastSent.IsZero() && now.Sub(s.lastSent) < s.spacing {
		return payload.Value{}, false, nil
	}
	v := s.queue[0]
	s.queue = s.queue[1:]
	s.lastSent = now
	err := s.tr.Send(s.dest, v.Body())
	// 回复帧的发送状态在这里被丢弃
	s.tr.Flush()
	if err != nil {
		return v, true, fmt.Errorf("send %s: %w", v, err)
	}
	return v, true, nil
}
