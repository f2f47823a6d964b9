package edge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/fieldsync/internal/clock"
	"github.com/taoyao-code/fieldsync/internal/persist"
	"github.com/taoyao-code/fieldsync/internal/protocol/payload"
	"github.com/taoyao-code/fieldsync/internal/sensor"
)

type fixedSource struct {
	e   sensor.Emission
	err error
}

func (f fixedSource) Latest() (sensor.Emission, error) { return f.e, f.err }

// driftClock 底层时钟固定在 t
type driftClock struct{ t time.Time }

func (d *driftClock) Now() time.Time { return d.t }

func TestInterpreterSetClock(t *testing.T) {
	base := &driftClock{t: time.Unix(1000, 0)}
	clk := clock.NewOffsetClock(base)
	store := persist.NewMemoryStore(true)
	src := fixedSource{e: sensor.Emission{Mean: sensor.Triple{512.9, 1024, 2048.4}}}
	in := NewInterpreter(clk, store, src, nil)

	replies, err := in.Handle(1700000000)
	require.NoError(t, err)
	assert.Equal(t, []payload.Value{
		payload.ClockEcho(1700000000),
		payload.Reading(512),
		payload.Reading(1024),
		payload.Reading(2048),
		payload.PersistenceFlag(true),
	}, replies)

	s := in.Session()
	assert.True(t, s.Recording)
	assert.Equal(t, "14221320.CSV", s.Destination)
	assert.Equal(t, "14221320.CSV", store.Current())
	assert.Equal(t, uint32(1700000000), clock.Epoch(clk.Now()))
}

func TestInterpreterEchoReadsCommittedClock(t *testing.T) {
	base := &driftClock{t: time.Unix(1000, 0)}
	clk := clock.NewOffsetClock(base)
	in := NewInterpreter(clk, persist.NewMemoryStore(true), fixedSource{err: sensor.ErrNoSample}, nil)

	// RTC 只有整秒精度时，回显就是提交后的读数
	replies, err := in.Handle(1700000123)
	require.NoError(t, err)
	assert.Equal(t, payload.ClockEcho(1700000123), replies[0])
	assert.Equal(t, payload.Reading(0), replies[1], "no sample yet reads zero")
}

func TestInterpreterPersistenceUnavailable(t *testing.T) {
	clk := clock.NewOffsetClock(nil)
	store := persist.NewMemoryStore(false)
	in := NewInterpreter(clk, store, fixedSource{}, nil)

	replies, err := in.Handle(1700000000)
	require.NoError(t, err)
	require.Len(t, replies, payload.SyncReplyLen)
	assert.Equal(t, payload.PersistenceFlag(false), replies[4])
	assert.True(t, in.Session().Recording)
	assert.NoError(t, in.Persist(sensor.Triple{1, 2, 3}), "unavailable store is skipped")
}

func TestInterpreterFlagFollowsSessionOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sd")
	store := persist.NewFileStore(persist.FileConfig{Dir: dir}, nil)
	require.True(t, store.Ready())
	t.Cleanup(func() { _ = store.Close() })
	in := NewInterpreter(clock.NewOffsetClock(nil), store, fixedSource{}, nil)

	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o644))

	replies, err := in.Handle(1700000000)
	require.NoError(t, err)
	assert.Equal(t, payload.PersistenceFlag(false), replies[4])
	assert.False(t, in.Session().StoreReady)
	assert.False(t, store.Ready())

	// 存储恢复后下一次同步重新打开
	require.NoError(t, os.Remove(dir))
	replies, err = in.Handle(1700000100)
	require.NoError(t, err)
	assert.Equal(t, payload.PersistenceFlag(true), replies[4])
	require.NoError(t, in.Persist(sensor.Triple{1, 2, 3}))
	assert.Equal(t, 1, in.Session().Records)
	assert.Positive(t, store.Written())
}

func TestInterpreterStop(t *testing.T) {
	clk := clock.NewOffsetClock(nil)
	store := persist.NewMemoryStore(true)
	in := NewInterpreter(clk, store, fixedSource{}, nil)

	_, err := in.Handle(1700000000)
	require.NoError(t, err)
	require.NoError(t, in.Persist(sensor.Triple{1, 2, 3}))

	replies, err := in.Handle(0)
	require.NoError(t, err)
	assert.Equal(t, []payload.Value{payload.StopAck(true)}, replies)
	assert.False(t, in.Session().Recording)

	require.NoError(t, in.Persist(sensor.Triple{4, 5, 6}))
	assert.Len(t, store.Records("14221320.CSV"), 1, "no persistence after stop")
	assert.Equal(t, 1, in.Session().Records)
}

func TestInterpreterIgnoresUnknownValues(t *testing.T) {
	in := NewInterpreter(clock.NewOffsetClock(nil), persist.NewMemoryStore(true), fixedSource{}, nil)
	for _, v := range []uint32{1, 512, 10_000_000} {
		replies, err := in.Handle(v)
		assert.ErrorIs(t, err, payload.ErrUnknownCommand, "value %d", v)
		assert.Empty(t, replies)
	}
	assert.False(t, in.Session().Recording)
}
