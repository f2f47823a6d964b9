package persist

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/taoyao-code/fieldsync/internal/sensor"
)

// Record 一条记录：时间戳（秒.毫秒）+ 三通道标定值
type Record struct {
	At     time.Time
	Values sensor.Triple
}

// Line 记录行 "epoch.millis, v0, v1, v2"
func (r Record) Line() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(r.At.Unix(), 10))
	b.WriteByte('.')
	fmt.Fprintf(&b, "%03d", r.At.Nanosecond()/int(time.Millisecond))
	for _, v := range r.Values {
		b.WriteString(", ")
		b.WriteString(strconv.FormatFloat(v, 'f', 2, 64))
	}
	return b.String()
}

// DestinationName 会话文件名 ddhhmmss.CSV（UTC）
func DestinationName(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%02d%02d%02d%02d.CSV", t.Day(), t.Hour(), t.Minute(), t.Second())
}
