package payload

import "encoding/binary"

// Size 帧体固定长度（字节）
const Size = 4

// EpochThreshold 大于该值的帧体视为 Unix 时间戳
const EpochThreshold uint32 = 10_000_000

// Encode 将 32 位整数编码为 4 字节大端帧体
func Encode(v uint32) [Size]byte {
	var b [Size]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b
}

// Decode 将 4 字节大端帧体还原为 32 位整数
func Decode(b [Size]byte) uint32 {
	return binary.BigEndian.Uint32(b[:])
}

// IsEpoch 按幅值判断是否为时间戳
func IsEpoch(v uint32) bool {
	return v > EpochThreshold
}
