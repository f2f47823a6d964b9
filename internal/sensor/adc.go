package sensor

import (
	"math/rand/v2"
	"sync"
)

// MaxCount 12 位 ADC 满量程
const MaxCount = 4095

// SimADC 仿真 ADC：在基准电平上叠加均匀抖动
type SimADC struct {
	mu     sync.Mutex
	levels Sample
	jitter int
	rng    *rand.Rand
}

// NewSimADC seed 固定时输出可复现
func NewSimADC(levels Sample, jitter int, seed uint64) *SimADC {
	return &SimADC{
		levels: levels,
		jitter: jitter,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}
}

// SetLevels 调整基准电平
func (a *SimADC) SetLevels(levels Sample) {
	a.mu.Lock()
	a.levels = levels
	a.mu.Unlock()
}

func (a *SimADC) Sample() (Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var s Sample
	for i, lv := range a.levels {
		v := int(lv)
		if a.jitter > 0 {
			v += a.rng.IntN(2*a.jitter+1) - a.jitter
		}
		s[i] = uint16(min(max(v, 0), MaxCount))
	}
	return s, nil
}
