package edge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/fieldsync/internal/clock"
	"github.com/taoyao-code/fieldsync/internal/persist"
	"github.com/taoyao-code/fieldsync/internal/radio"
	"github.com/taoyao-code/fieldsync/internal/sensor"
)

type stepNow struct {
	mu sync.Mutex
	t  time.Time
}

func (s *stepNow) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

func (s *stepNow) advance(d time.Duration) {
	s.mu.Lock()
	s.t = s.t.Add(d)
	s.mu.Unlock()
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingObserver) Record(event, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[event+"/"+result]++
}

func newTestDevice(t *testing.T, store persist.Store) (*Device, *loopTransport, *stepNow, *countingObserver) {
	t.Helper()
	tr := &loopTransport{}
	now := &stepNow{t: time.Unix(5000, 0)}
	adc := sensor.NewSimADC(sensor.Sample{1000, 2000, 3000}, 0, 1)
	pipeline := sensor.NewPipeline(adc, sensor.WithSpacing(2*time.Millisecond), sensor.WithWindow(100*time.Millisecond))
	obs := &countingObserver{}
	d := NewDevice(Config{Address: 0x00E1, Coordinator: radio.CoordinatorAddress, ReplySpacing: 250 * time.Millisecond},
		tr, clock.NewOffsetClock(nil), pipeline, store, WithNow(now.Now), WithObserver(obs))
	return d, tr, now, obs
}

func tickFor(t *testing.T, d *Device, now *stepNow, total, step time.Duration) {
	t.Helper()
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		require.NoError(t, d.Tick(context.Background()))
		now.advance(step)
	}
}

func TestDeviceSetClockReplySequence(t *testing.T) {
	store := persist.NewMemoryStore(true)
	d, tr, now, obs := newTestDevice(t, store)

	// 先让流水线输出一次
	tickFor(t, d, now, 150*time.Millisecond, time.Millisecond)

	tr.push(1700000000)
	tickFor(t, d, now, 1200*time.Millisecond, time.Millisecond)

	sent := tr.values()
	require.Len(t, sent, 5)
	assert.Equal(t, uint32(1700000000), sent[0])
	assert.Equal(t, []uint32{1000, 2000, 3000}, sent[1:4])
	assert.Equal(t, uint32(1), sent[4])
	for _, f := range tr.sent {
		assert.Equal(t, radio.CoordinatorAddress, f.Address)
	}

	s := d.Session()
	assert.True(t, s.Recording)
	assert.Greater(t, s.Records, 5, "emissions persisted while recording")
	assert.Equal(t, 1, obs.counts["command/set_clock"])
	assert.Equal(t, 3, obs.counts["reply/reading"])
}

func TestDeviceStopRepliesFlag(t *testing.T) {
	store := persist.NewMemoryStore(true)
	d, tr, now, _ := newTestDevice(t, store)

	tr.push(1700000000)
	tickFor(t, d, now, 1200*time.Millisecond, time.Millisecond)
	tr.push(0)
	tickFor(t, d, now, 300*time.Millisecond, time.Millisecond)

	sent := tr.values()
	require.Len(t, sent, 6)
	assert.Equal(t, uint32(1), sent[5])
	assert.False(t, d.Session().Recording)

	records := len(store.Records(d.Session().Destination))
	tickFor(t, d, now, 300*time.Millisecond, time.Millisecond)
	assert.Equal(t, records, len(store.Records(d.Session().Destination)), "persistence suppressed after stop")
}

func TestDeviceIgnoresUnknownCommand(t *testing.T) {
	d, tr, now, obs := newTestDevice(t, persist.NewMemoryStore(true))
	tr.push(1234)
	tickFor(t, d, now, 10*time.Millisecond, time.Millisecond)
	assert.Empty(t, tr.values())
	assert.Equal(t, 1, obs.counts["command/ignored"])
}

func TestDeviceRunStopsOnCancel(t *testing.T) {
	d, _, _, _ := newTestDevice(t, persist.NewMemoryStore(true))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
