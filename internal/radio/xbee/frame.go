package xbee

import (
	"errors"
	"fmt"
)

// XBee 802.15.4 API 模式（AP=1，无转义）帧格式：
//   0x7E | Length(2, 大端) | FrameData(Length) | Checksum(1)
// Checksum = 0xFF - (FrameData 字节和 & 0xFF)
const (
	StartDelimiter = 0x7E

	APITx16Request = 0x01
	APIRx16        = 0x81
	APITxStatus    = 0x89
	APIModemStatus = 0x8A

	// OptionDisableAck Tx16 选项位：关闭 MAC 层确认
	OptionDisableAck = 0x01

	maxFrameData = 256
)

// 解析错误码（与 XBee Arduino 库一致）
const (
	CodeChecksumFailure     = 1
	CodePacketTooLong       = 2
	CodeUnexpectedStartByte = 3
)

var (
	ErrChecksum      = errors.New("xbee: checksum failure")
	ErrFrameTooLong  = errors.New("xbee: frame exceeds buffer")
	ErrShortFrame    = errors.New("xbee: frame data too short")
	ErrUnexpectedAPI = errors.New("xbee: unexpected api id")
)

// APIFrame 一帧 API 数据（不含起始符、长度与校验）
type APIFrame []byte

// ID API 标识
func (f APIFrame) ID() byte {
	if len(f) == 0 {
		return 0
	}
	return f[0]
}

// Wrap 加上起始符、长度与校验
func Wrap(data APIFrame) []byte {
	out := make([]byte, 0, len(data)+4)
	out = append(out, StartDelimiter, byte(len(data)>>8), byte(len(data)))
	out = append(out, data...)
	return append(out, checksum(data))
}

// Tx16Request 构造 16 位地址发送请求
func Tx16Request(frameID byte, addr uint16, options byte, data []byte) APIFrame {
	f := make(APIFrame, 0, 5+len(data))
	f = append(f, APITx16Request, frameID, byte(addr>>8), byte(addr), options)
	return append(f, data...)
}

// Rx16Packet 构造 16 位地址接收帧（测试与仿真用）
func Rx16Packet(src uint16, rssi byte, data []byte) APIFrame {
	f := make(APIFrame, 0, 5+len(data))
	f = append(f, APIRx16, byte(src>>8), byte(src), rssi, 0x00)
	return append(f, data...)
}

// TxStatusFrame 构造发送状态帧（测试与仿真用）
func TxStatusFrame(frameID, status byte) APIFrame {
	return APIFrame{APITxStatus, frameID, status}
}

// Rx16 解析后的接收帧
type Rx16 struct {
	Source  uint16
	RSSI    byte
	Options byte
	Data    []byte
}

// ParseRx16 解析 0x81 接收帧
func ParseRx16(f APIFrame) (Rx16, error) {
	if f.ID() != APIRx16 {
		return Rx16{}, fmt.Errorf("%w: 0x%02X", ErrUnexpectedAPI, f.ID())
	}
	if len(f) < 5 {
		return Rx16{}, ErrShortFrame
	}
	return Rx16{
		Source:  uint16(f[1])<<8 | uint16(f[2]),
		RSSI:    f[3],
		Options: f[4],
		Data:    append([]byte(nil), f[5:]...),
	}, nil
}

// TxStatus 解析后的发送状态
type TxStatus struct {
	FrameID byte
	Status  byte
}

// ParseTxStatus 解析 0x89 发送状态帧
func ParseTxStatus(f APIFrame) (TxStatus, error) {
	if f.ID() != APITxStatus {
		return TxStatus{}, fmt.Errorf("%w: 0x%02X", ErrUnexpectedAPI, f.ID())
	}
	if len(f) < 3 {
		return TxStatus{}, ErrShortFrame
	}
	return TxStatus{FrameID: f[1], Status: f[2]}, nil
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

// DecodeError 字节流解析错误
type DecodeError struct {
	Code int
	Err  error
}

func (e *DecodeError) Error() string { return e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

type decodeState int

const (
	stateStart decodeState = iota
	stateLenHi
	stateLenLo
	stateData
	stateChecksum
)

// Decoder 增量式字节流解析器
type Decoder struct {
	state    decodeState
	length   int
	buf      []byte
	skipping bool
}

// Feed 输入一个字节；完整帧返回帧数据，否则返回 nil
func (d *Decoder) Feed(b byte) (APIFrame, error) {
	switch d.state {
	case stateStart:
		if b != StartDelimiter {
			// 连续的垃圾字节只报告一次
			if d.skipping {
				return nil, nil
			}
			d.skipping = true
			return nil, &DecodeError{Code: CodeUnexpectedStartByte, Err: fmt.Errorf("xbee: unexpected start byte 0x%02X", b)}
		}
		d.skipping = false
		d.state = stateLenHi
	case stateLenHi:
		d.length = int(b) << 8
		d.state = stateLenLo
	case stateLenLo:
		d.length |= int(b)
		if d.length == 0 || d.length > maxFrameData {
			d.reset()
			return nil, &DecodeError{Code: CodePacketTooLong, Err: ErrFrameTooLong}
		}
		d.buf = make([]byte, 0, d.length)
		d.state = stateData
	case stateData:
		d.buf = append(d.buf, b)
		if len(d.buf) == d.length {
			d.state = stateChecksum
		}
	case stateChecksum:
		frame := APIFrame(d.buf)
		ok := checksum(frame) == b
		d.reset()
		if !ok {
			return nil, &DecodeError{Code: CodeChecksumFailure, Err: ErrChecksum}
		}
		return frame, nil
	}
	return nil, nil
}

func (d *Decoder) reset() {
	d.state = stateStart
	d.length = 0
	d.buf = nil
}
