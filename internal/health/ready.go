package health

import "sync/atomic"

// Readiness 就绪状态（无线链路、控制循环）
type Readiness struct {
	radioReady atomic.Bool
	loopReady  atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetRadioReady(v bool) { r.radioReady.Store(v) }
func (r *Readiness) SetLoopReady(v bool)  { r.loopReady.Store(v) }

// Ready 链路打开且控制循环在运行
func (r *Readiness) Ready() bool {
	return r.radioReady.Load() && r.loopReady.Load()
}
