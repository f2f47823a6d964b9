package edge

import "time"

// Session 一次记录会话，设置时钟时创建，停止时原地更新
type Session struct {
	Recording   bool      `json:"recording"`
	Destination string    `json:"destination"`
	Epoch       uint32    `json:"epoch"`
	OpenedAt    time.Time `json:"opened_at"`
	StoppedAt   time.Time `json:"stopped_at,omitempty"`
	StoreReady  bool      `json:"store_ready"`
	Records     int       `json:"records"`
	Failures    int       `json:"failures"`
}
