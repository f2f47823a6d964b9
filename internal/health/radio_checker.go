package health

import (
	"context"
	"time"
)

// Link 可探测的无线链路
type Link interface {
	Alive() bool
}

// DropCounter 可报告丢弃帧数的链路
type DropCounter interface {
	Dropped() int64
}

// RadioChecker 无线链路健康检查器
type RadioChecker struct {
	link Link
}

func NewRadioChecker(link Link) *RadioChecker {
	return &RadioChecker{link: link}
}

func (c *RadioChecker) Name() string {
	return "radio"
}

func (c *RadioChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	details := map[string]any{}
	if dc, ok := c.link.(DropCounter); ok {
		details["dropped_frames"] = dc.Dropped()
	}
	if !c.link.Alive() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "radio link closed",
			Details: details,
			Latency: time.Since(start),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "ok",
		Details: details,
		Latency: time.Since(start),
	}
}
