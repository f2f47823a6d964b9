package pg

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/fieldsync/db"
	"github.com/taoyao-code/fieldsync/internal/coordinator"
	"github.com/taoyao-code/fieldsync/internal/migrate"
)

func sampleReport() coordinator.AttemptReport {
	a := coordinator.AttemptReport{
		Index:       3,
		Name:        "3",
		MaxAttempts: 5,
		Reason:      "ok",
		StartedAt:   time.Unix(1700000000, 0).UTC(),
		FinishedAt:  time.Unix(1700000001, 0).UTC(),
	}
	a.ID = uuid.New()
	a.Command = coordinator.CommandSync
	a.Address = 0x00E3
	a.Attempt = 2
	a.Acked = true
	a.AckLatency = 5 * time.Millisecond
	a.SentEpoch = 1700000000
	a.EchoedEpoch = 1700000001
	a.SkewValid = true
	a.Readings = [3]uint32{10, 20, 30}
	a.Frames = 5
	a.Flag = true
	a.FlagSeen = true
	return a
}

func TestAttemptRowRoundTrip(t *testing.T) {
	a := sampleReport()
	back, err := rowFromReport(a).report()
	require.NoError(t, err)
	assert.Equal(t, a, back)
}

func TestAttemptRowStopWithoutSkew(t *testing.T) {
	a := coordinator.AttemptReport{Reason: "timeout", Error: "radio: timeout"}
	a.Command = coordinator.CommandStop
	a.Frames = 0

	row := rowFromReport(a)
	assert.Nil(t, row.skewMs)
	assert.Nil(t, row.flag)
	assert.Empty(t, row.readings)

	back, err := row.report()
	require.NoError(t, err)
	assert.False(t, back.SkewValid)
	assert.False(t, back.FlagSeen)
	assert.Equal(t, "radio: timeout", back.Error)
}

type fakeWriter struct {
	mu   sync.Mutex
	got  []coordinator.AttemptReport
	fail bool
}

func (f *fakeWriter) Insert(_ context.Context, a coordinator.AttemptReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db down")
	}
	f.got = append(f.got, a)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestHistoryRecorderDrainsOnCancel(t *testing.T) {
	w := &fakeWriter{}
	rec := NewHistoryRecorder(w, 2, nil)

	rec.AttemptFinished(sampleReport())
	rec.AttemptFinished(sampleReport())
	rec.AttemptFinished(sampleReport())
	assert.Equal(t, int64(1), rec.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)
	assert.Equal(t, 2, w.count())
}

func TestHistoryRecorderSurvivesWriteErrors(t *testing.T) {
	w := &fakeWriter{fail: true}
	rec := NewHistoryRecorder(w, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	rec.AttemptFinished(sampleReport())
	cancel()
	<-done
	assert.Equal(t, 0, w.count())
}

// 需要 TEST_DATABASE_URL 指向可用的 PostgreSQL
func TestAttemptRepositoryPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL 未设置，跳过")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("测试数据库不可用: %v", err)
	}

	_, err = migrate.Runner{FS: db.Migrations, Dir: "migrations"}.Up(ctx, pool)
	require.NoError(t, err)

	repo := &AttemptRepository{DB: pool}
	a := sampleReport()
	a.Index = 900 + int(time.Now().UnixNano()%1000)
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, a), "duplicate insert is ignored")

	got, err := repo.Attempts(ctx, a.Index, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, a.Readings, got[0].Readings)
	assert.True(t, got[0].SkewValid)

	_, err = pool.Exec(ctx, `DELETE FROM handshake_attempts WHERE node_index=$1`, a.Index)
	require.NoError(t, err)
}
