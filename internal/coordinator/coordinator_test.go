package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/fieldsync/internal/clock"
	"github.com/taoyao-code/fieldsync/internal/protocol/payload"
	"github.com/taoyao-code/fieldsync/internal/radio"
)

// fakeTime 每次读取前进 100µs，让对齐自旋能跨过秒边界
type fakeTime struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(100 * time.Microsecond)
	return f.t
}

func (f *fakeTime) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// step 脚本中的一条入站事件，delay 相对上一条
type step struct {
	delay time.Duration
	resp  radio.Response
	err   error
}

func txStatus(delay time.Duration, st radio.TxStatus) step {
	return step{delay: delay, resp: radio.Response{Kind: radio.ResponseTxStatus, Status: st}}
}

func data(delay time.Duration, src radio.Address, v uint32) step {
	return step{delay: delay, resp: radio.Response{Kind: radio.ResponseData, Source: src, Body: payload.Encode(v)}}
}

// scriptedTransport 每次 Send 后按 react 生成入站脚本；时间由 fakeTime 推进
type scriptedTransport struct {
	mu      sync.Mutex
	clk     *fakeTime
	react   func(attempt int, f radio.Frame) []step
	sendErr error
	queue   []step
	sent    []radio.Frame
	flushes int

	// sendCost 每次 Send 消耗的时间（串口写入）
	sendCost time.Duration
}

func (s *scriptedTransport) Send(addr radio.Address, body [payload.Size]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clk.advance(s.sendCost)
	if s.sendErr != nil {
		return s.sendErr
	}
	f := radio.Frame{Address: addr, Body: body}
	s.sent = append(s.sent, f)
	if s.react != nil {
		s.queue = append(s.queue, s.react(len(s.sent), f)...)
	}
	return nil
}

func (s *scriptedTransport) TryReceive(ctx context.Context, timeout time.Duration) (radio.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		s.clk.advance(timeout)
		return radio.Response{}, radio.ErrTimeout
	}
	st := &s.queue[0]
	if st.delay > timeout {
		st.delay -= timeout
		s.clk.advance(timeout)
		return radio.Response{}, radio.ErrTimeout
	}
	s.clk.advance(st.delay)
	out := *st
	s.queue = s.queue[1:]
	return out.resp, out.err
}

func (s *scriptedTransport) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	// 上一次尝试的剩余回复一并丢弃
	n := len(s.queue)
	s.queue = nil
	return n
}

func (s *scriptedTransport) sentValues() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, len(s.sent))
	for i, f := range s.sent {
		out[i] = f.Value()
	}
	return out
}

// goodEdge 模拟正常边缘：5ms 确认，随后回显、三个读数、存储就绪
func goodEdge(_ int, f radio.Frame) []step {
	v := f.Value()
	if v == 0 {
		return []step{txStatus(3*time.Millisecond, radio.TxSuccess), data(20*time.Millisecond, f.Address, 1)}
	}
	return []step{
		txStatus(5*time.Millisecond, radio.TxSuccess),
		data(10*time.Millisecond, f.Address, v),
		data(250*time.Millisecond, f.Address, 512),
		data(250*time.Millisecond, f.Address, 1024),
		data(250*time.Millisecond, f.Address, 2048),
		data(250*time.Millisecond, f.Address, 1),
	}
}

type recordingReporter struct {
	mu       sync.Mutex
	nodes    []Node
	attempts []AttemptReport
}

func (r *recordingReporter) NodeChanged(n Node) {
	r.mu.Lock()
	r.nodes = append(r.nodes, n)
	r.mu.Unlock()
}

func (r *recordingReporter) AttemptFinished(a AttemptReport) {
	r.mu.Lock()
	r.attempts = append(r.attempts, a)
	r.mu.Unlock()
}

func (r *recordingReporter) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.attempts))
	for i, a := range r.attempts {
		out[i] = a.Reason
	}
	return out
}

type harness struct {
	clk   *fakeTime
	tr    *scriptedTransport
	rep   *recordingReporter
	coord *Coordinator
}

func newHarness(t *testing.T, react func(int, radio.Frame) []step) *harness {
	t.Helper()
	clk := &fakeTime{t: time.Unix(int64(testEpoch), 999_000_000)}
	tr := &scriptedTransport{clk: clk, react: react}
	table, err := NewTable(DefaultRoster())
	require.NoError(t, err)
	rep := &recordingReporter{}
	coord := New(DefaultConfig(), tr, clock.Func(clk.Now), table, WithReporter(rep), WithNow(clk.Now))
	return &harness{clk: clk, tr: tr, rep: rep, coord: coord}
}

// run 同步执行一次选择
func (h *harness) run(t *testing.T, index int) Node {
	t.Helper()
	_, err := h.coord.Select(index)
	require.NoError(t, err)
	sel := <-h.coord.events
	h.coord.execute(context.Background(), sel)
	n, ok := h.coord.Table().Get(index)
	require.True(t, ok)
	return n
}

func TestSyncSucceedsFirstAttempt(t *testing.T) {
	h := newHarness(t, goodEdge)
	n := h.run(t, 1)

	assert.Equal(t, StatusRecording, n.Status)
	assert.Equal(t, 1, n.Attempts)
	assert.Equal(t, [3]uint32{512, 1024, 2048}, n.LatestReadings)
	assert.Equal(t, testEpoch+1, n.LastSyncedEpoch, "aligned to the next second")
	assert.Equal(t, time.Duration(0), n.LastVerifiedSkew)
	assert.False(t, n.Pending)

	sent := h.tr.sentValues()
	require.Len(t, sent, 1)
	assert.Equal(t, testEpoch+1, sent[0])
	assert.Equal(t, []string{"ok"}, h.rep.reasons())
}

func TestSyncAlwaysSendsAlignedEpoch(t *testing.T) {
	h := newHarness(t, goodEdge)
	h.run(t, 0)
	sent := h.tr.sentValues()
	require.Len(t, sent, 1)
	assert.True(t, payload.IsEpoch(sent[0]))
	assert.Equal(t, testEpoch+1, sent[0])
}

func TestSyncRetriesNoAckThenSucceeds(t *testing.T) {
	h := newHarness(t, func(attempt int, f radio.Frame) []step {
		if attempt < 3 {
			return []step{txStatus(4*time.Millisecond, radio.TxNoAck)}
		}
		return goodEdge(attempt, f)
	})
	n := h.run(t, 2)
	assert.Equal(t, StatusRecording, n.Status)
	assert.Equal(t, 3, n.Attempts)
	assert.Equal(t, []string{"delivery_failed", "delivery_failed", "ok"}, h.rep.reasons())
}

func TestSyncExhaustsAfterFiveAttempts(t *testing.T) {
	h := newHarness(t, func(int, radio.Frame) []step {
		return []step{txStatus(4*time.Millisecond, radio.TxNoAck)}
	})
	n := h.run(t, 2)
	assert.Equal(t, StatusError, n.Status)
	assert.Equal(t, 5, n.Attempts)
	assert.Contains(t, n.LastError, ErrRetriesExhausted.Error())
	assert.Len(t, h.tr.sentValues(), 5, "no frames after the fifth attempt")
	assert.Len(t, h.rep.attempts, 5)
}

func TestSyncLatencyExceededRetries(t *testing.T) {
	h := newHarness(t, func(attempt int, f radio.Frame) []step {
		if attempt == 1 {
			steps := goodEdge(attempt, f)
			steps[0].delay = 30 * time.Millisecond
			return steps
		}
		return goodEdge(attempt, f)
	})
	n := h.run(t, 4)
	assert.Equal(t, StatusRecording, n.Status)
	assert.Equal(t, 2, n.Attempts)
	require.Equal(t, []string{"latency_exceeded", "ok"}, h.rep.reasons())
	assert.Equal(t, 0, h.rep.attempts[0].Frames, "no reply data consumed")
}

func TestSyncLatencyIncludesSendTime(t *testing.T) {
	h := newHarness(t, goodEdge)
	// 写入 15ms + 确认 5ms 已达上限
	h.tr.sendCost = 15 * time.Millisecond
	n := h.run(t, 2)

	assert.Equal(t, StatusError, n.Status)
	require.Len(t, h.rep.attempts, 5)
	for _, a := range h.rep.attempts {
		assert.Equal(t, "latency_exceeded", a.Reason)
		assert.GreaterOrEqual(t, a.AckLatency, 20*time.Millisecond)
	}

	h.tr.sendCost = 10 * time.Millisecond
	n = h.run(t, 3)
	assert.Equal(t, StatusRecording, n.Status)
	last := h.rep.attempts[len(h.rep.attempts)-1]
	assert.Equal(t, "ok", last.Reason)
	assert.GreaterOrEqual(t, last.AckLatency, 15*time.Millisecond)
}

func TestSyncSkewMismatchRetries(t *testing.T) {
	h := newHarness(t, func(attempt int, f radio.Frame) []step {
		steps := goodEdge(attempt, f)
		if attempt == 1 {
			steps[1] = data(10*time.Millisecond, f.Address, f.Value()-1)
		}
		return steps
	})
	n := h.run(t, 0)
	assert.Equal(t, StatusRecording, n.Status)
	require.Equal(t, []string{"skew_mismatch", "ok"}, h.rep.reasons())
	assert.Equal(t, time.Second, h.rep.attempts[0].Skew)
}

func TestSyncPersistenceUnavailableIsPermanent(t *testing.T) {
	h := newHarness(t, func(attempt int, f radio.Frame) []step {
		steps := goodEdge(attempt, f)
		steps[5] = data(250*time.Millisecond, f.Address, 0)
		return steps
	})
	n := h.run(t, 5)
	assert.Equal(t, StatusError, n.Status)
	assert.Equal(t, 1, n.Attempts)
	assert.Contains(t, n.LastError, ErrPersistenceUnavailable.Error())
	assert.NotContains(t, n.LastError, ErrRetriesExhausted.Error())
	assert.Len(t, h.tr.sentValues(), 1)
}

func TestSyncMissingTxStatusTimesOut(t *testing.T) {
	h := newHarness(t, func(attempt int, f radio.Frame) []step {
		if attempt == 1 {
			return nil
		}
		return goodEdge(attempt, f)
	})
	n := h.run(t, 6)
	assert.Equal(t, StatusRecording, n.Status)
	assert.Equal(t, []string{"timeout", "ok"}, h.rep.reasons())
}

func TestSyncReplyFrameTimeout(t *testing.T) {
	h := newHarness(t, func(attempt int, f radio.Frame) []step {
		steps := goodEdge(attempt, f)
		if attempt == 1 {
			steps[3].delay = 1500 * time.Millisecond
		}
		return steps
	})
	n := h.run(t, 7)
	assert.Equal(t, StatusRecording, n.Status)
	require.Equal(t, []string{"timeout", "ok"}, h.rep.reasons())
	assert.Equal(t, 2, h.rep.attempts[0].Frames)
}

func TestSyncLostEchoIsDesync(t *testing.T) {
	h := newHarness(t, func(attempt int, f radio.Frame) []step {
		steps := goodEdge(attempt, f)
		if attempt == 1 {
			// 回显丢失，第一帧就是读数
			steps = append(steps[:1], steps[2:]...)
		}
		return steps
	})
	n := h.run(t, 8)
	assert.Equal(t, StatusRecording, n.Status)
	assert.Equal(t, []string{"desync", "ok"}, h.rep.reasons())
}

func TestSyncStaleFramesBeforeTxStatusDropped(t *testing.T) {
	h := newHarness(t, func(attempt int, f radio.Frame) []step {
		steps := goodEdge(attempt, f)
		stale := []step{data(1*time.Millisecond, f.Address, 2048), data(1*time.Millisecond, f.Address, 1)}
		steps[0].delay = 2 * time.Millisecond
		return append(stale, steps...)
	})
	n := h.run(t, 9)
	assert.Equal(t, StatusRecording, n.Status)
	require.Len(t, h.rep.attempts, 1)
	assert.Equal(t, 2, h.rep.attempts[0].Stale)
}

func TestSyncTransportErrorRetried(t *testing.T) {
	h := newHarness(t, func(attempt int, f radio.Frame) []step {
		if attempt == 1 {
			return []step{{delay: time.Millisecond, err: &radio.TransportError{Op: "receive", Code: 1, Err: errors.New("checksum")}}}
		}
		return goodEdge(attempt, f)
	})
	n := h.run(t, 3)
	assert.Equal(t, StatusRecording, n.Status)
	assert.Equal(t, []string{"transport_error", "ok"}, h.rep.reasons())
}

func TestStopFromRecordingGoesIdle(t *testing.T) {
	h := newHarness(t, goodEdge)
	require.Equal(t, StatusRecording, h.run(t, 1).Status)

	n := h.run(t, 1)
	assert.Equal(t, StatusIdle, n.Status)
	sent := h.tr.sentValues()
	require.Len(t, sent, 2)
	assert.Equal(t, uint32(0), sent[1])

	last := h.rep.attempts[len(h.rep.attempts)-1]
	assert.Equal(t, CommandStop, last.Command)
	assert.True(t, last.FlagSeen)
}

func TestStopSucceedsWithoutFlagAndSlowAck(t *testing.T) {
	h := newHarness(t, func(attempt int, f radio.Frame) []step {
		if f.Value() == 0 {
			return []step{txStatus(300*time.Millisecond, radio.TxSuccess)}
		}
		return goodEdge(attempt, f)
	})
	h.run(t, 1)
	n := h.run(t, 1)
	assert.Equal(t, StatusIdle, n.Status)
	assert.Equal(t, 1, n.Attempts)
}

func TestStopExhaustsToError(t *testing.T) {
	h := newHarness(t, func(attempt int, f radio.Frame) []step {
		if f.Value() == 0 {
			return []step{txStatus(3*time.Millisecond, radio.TxNoAck)}
		}
		return goodEdge(attempt, f)
	})
	h.run(t, 1)
	n := h.run(t, 1)
	assert.Equal(t, StatusError, n.Status)
	assert.Len(t, h.tr.sentValues(), 6)
}

func TestSendErrorReported(t *testing.T) {
	h := newHarness(t, goodEdge)
	h.tr.sendErr = &radio.TransportError{Op: "send", Err: radio.ErrClosed}
	n := h.run(t, 0)
	assert.Equal(t, StatusError, n.Status)
	assert.Len(t, h.rep.attempts, 5)
	assert.Equal(t, "transport_error", h.rep.attempts[0].Reason)
}

func TestSelectRejectsInFlight(t *testing.T) {
	h := newHarness(t, goodEdge)
	_, err := h.coord.Select(1)
	require.NoError(t, err)
	_, err = h.coord.Select(1)
	assert.ErrorIs(t, err, ErrCommandInFlight)

	_, err = h.coord.Select(2)
	assert.NoError(t, err, "other nodes are independent")

	_, err = h.coord.Select(99)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestTouchSelectsGridCell(t *testing.T) {
	h := newHarness(t, goodEdge)
	index, id, err := h.coord.Touch(240, 150)
	require.NoError(t, err)
	assert.Equal(t, 3, index)
	assert.NotEqual(t, "", id.String())

	// 格线上的点不命中任何按钮
	_, _, err = h.coord.Touch(160, 150)
	assert.ErrorIs(t, err, ErrOutsideGrid)
	_, _, err = h.coord.Touch(100, 480)
	assert.ErrorIs(t, err, ErrOutsideGrid)
	assert.NotErrorIs(t, err, ErrUnknownNode)
}

func TestSeedClock(t *testing.T) {
	table, err := NewTable(DefaultRoster())
	require.NoError(t, err)
	rtc := clock.NewOffsetClock(nil)
	c := New(DefaultConfig(), &scriptedTransport{clk: &fakeTime{}}, rtc, table)

	assert.ErrorIs(t, c.SeedClock(42), ErrInvalidEpoch)
	require.NoError(t, c.SeedClock(testEpoch))
	assert.InDelta(t, float64(testEpoch), float64(c.Now().Unix()), 1)

	fixed := New(DefaultConfig(), &scriptedTransport{clk: &fakeTime{}}, clock.System, table)
	assert.Error(t, fixed.SeedClock(testEpoch))
}

func TestRunProcessesQueuedSelections(t *testing.T) {
	h := newHarness(t, goodEdge)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()

	_, err := h.coord.Select(0)
	require.NoError(t, err)
	_, err = h.coord.Select(1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, _ := h.coord.Table().Get(0)
		b, _ := h.coord.Table().Get(1)
		return a.Status == StatusRecording && b.Status == StatusRecording && !a.Pending && !b.Pending
	}, 5*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
