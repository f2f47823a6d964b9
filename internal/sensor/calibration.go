package sensor

// DefaultFloor 传感器缺失时的下限哨兵值
const DefaultFloor = -999.0

// Calibration 线性标定：physical = (raw - offset) * scale。
// 结果低于 -Tolerance 视为传感器缺失，返回 Floor。
type Calibration struct {
	Offset    float64 `mapstructure:"offset" yaml:"offset"`
	Scale     float64 `mapstructure:"scale" yaml:"scale"`
	Tolerance float64 `mapstructure:"tolerance" yaml:"tolerance"`
	Floor     float64 `mapstructure:"floor" yaml:"floor"`
}

// Identity 不做换算
func Identity() Calibration {
	return Calibration{Scale: 1, Tolerance: 0, Floor: DefaultFloor}
}

// Apply 标定一个平均计数
func (c Calibration) Apply(raw float64) float64 {
	v := (raw - c.Offset) * c.Scale
	if v < -c.Tolerance {
		return c.Floor
	}
	return v
}

// Valid 是否为有效读数（非哨兵）
func (c Calibration) Valid(v float64) bool {
	return v != c.Floor
}

// Calibrator 三通道标定
type Calibrator [Channels]Calibration

// Apply 标定三元组
func (c Calibrator) Apply(t Triple) Triple {
	var out Triple
	for i, v := range t {
		out[i] = c[i].Apply(v)
	}
	return out
}
