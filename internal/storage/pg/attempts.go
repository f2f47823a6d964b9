package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taoyao-code/fieldsync/internal/coordinator"
	"github.com/taoyao-code/fieldsync/internal/radio"
)

// DB pgxpool.Pool 与 pgx.Tx 的公共子集
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AttemptRepository 握手尝试历史
type AttemptRepository struct {
	DB DB
}

const insertAttemptSQL = `
INSERT INTO handshake_attempts (
    id, attempt, node_index, node_name, address, command, max_attempts, reason, error,
    acked, ack_latency_us, sent_epoch, echoed_epoch, skew_ms, readings, frames, flag, stale,
    started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (id, attempt) DO NOTHING`

const selectAttemptSQL = `
SELECT id, attempt, node_index, node_name, address, command, max_attempts, reason, error,
       acked, ack_latency_us, sent_epoch, echoed_epoch, skew_ms, readings, frames, flag, stale,
       started_at, finished_at
FROM handshake_attempts`

// attemptRow 一行历史记录的列值
type attemptRow struct {
	id           uuid.UUID
	attempt      int
	nodeIndex    int
	nodeName     string
	address      int
	command      string
	maxAttempts  int
	reason       string
	errText      string
	acked        bool
	ackLatencyUs int64
	sentEpoch    int64
	echoedEpoch  int64
	skewMs       *int64
	readings     []int64
	frames       int
	flag         *bool
	stale        int
	startedAt    time.Time
	finishedAt   time.Time
}

func rowFromReport(a coordinator.AttemptReport) attemptRow {
	r := attemptRow{
		id:           a.ID,
		attempt:      a.Attempt,
		nodeIndex:    a.Index,
		nodeName:     a.Name,
		address:      int(a.Address),
		command:      a.Command.String(),
		maxAttempts:  a.MaxAttempts,
		reason:       a.Reason,
		errText:      a.Error,
		acked:        a.Acked,
		ackLatencyUs: a.AckLatency.Microseconds(),
		sentEpoch:    int64(a.SentEpoch),
		echoedEpoch:  int64(a.EchoedEpoch),
		frames:       a.Frames,
		stale:        a.Stale,
		startedAt:    a.StartedAt,
		finishedAt:   a.FinishedAt,
	}
	if a.SkewValid {
		ms := a.Skew.Milliseconds()
		r.skewMs = &ms
	}
	if a.Command == coordinator.CommandSync && a.Frames > 1 {
		r.readings = make([]int64, len(a.Readings))
		for i, v := range a.Readings {
			r.readings[i] = int64(v)
		}
	} else {
		r.readings = []int64{}
	}
	if a.FlagSeen {
		f := a.Flag
		r.flag = &f
	}
	return r
}

func (r attemptRow) report() (coordinator.AttemptReport, error) {
	var a coordinator.AttemptReport
	if err := a.Command.UnmarshalText([]byte(r.command)); err != nil {
		return a, err
	}
	a.ID = r.id
	a.Attempt = r.attempt
	a.Index = r.nodeIndex
	a.Name = r.nodeName
	a.Address = radio.Address(r.address)
	a.MaxAttempts = r.maxAttempts
	a.Reason = r.reason
	a.Error = r.errText
	a.Acked = r.acked
	a.AckLatency = time.Duration(r.ackLatencyUs) * time.Microsecond
	a.SentEpoch = uint32(r.sentEpoch)
	a.EchoedEpoch = uint32(r.echoedEpoch)
	if r.skewMs != nil {
		a.SkewValid = true
		a.Skew = time.Duration(*r.skewMs) * time.Millisecond
	}
	for i := 0; i < len(r.readings) && i < len(a.Readings); i++ {
		a.Readings[i] = uint32(r.readings[i])
	}
	a.Frames = r.frames
	if r.flag != nil {
		a.FlagSeen = true
		a.Flag = *r.flag
	}
	a.Stale = r.stale
	a.StartedAt = r.startedAt
	a.FinishedAt = r.finishedAt
	return a, nil
}

// Insert 写入一次尝试；同一 (id, attempt) 重复写入被忽略
func (r *AttemptRepository) Insert(ctx context.Context, a coordinator.AttemptReport) error {
	if r == nil || r.DB == nil {
		return errors.New("attempt repository not initialized")
	}
	row := rowFromReport(a)
	_, err := r.DB.Exec(ctx, insertAttemptSQL,
		row.id, row.attempt, row.nodeIndex, row.nodeName, row.address, row.command, row.maxAttempts,
		row.reason, row.errText, row.acked, row.ackLatencyUs, row.sentEpoch, row.echoedEpoch,
		row.skewMs, row.readings, row.frames, row.flag, row.stale, row.startedAt, row.finishedAt)
	if err != nil {
		return fmt.Errorf("insert handshake attempt: %w", err)
	}
	return nil
}

// Attempts 某节点最近的尝试，新的在前
func (r *AttemptRepository) Attempts(ctx context.Context, index, limit int) ([]coordinator.AttemptReport, error) {
	if limit <= 0 {
		limit = coordinator.DefaultHistorySize
	}
	rows, err := r.DB.Query(ctx, selectAttemptSQL+` WHERE node_index=$1 ORDER BY finished_at DESC, attempt DESC LIMIT $2`, index, limit)
	if err != nil {
		return nil, fmt.Errorf("query handshake attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// Recent 全部节点最近的尝试
func (r *AttemptRepository) Recent(ctx context.Context, limit int) ([]coordinator.AttemptReport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.Query(ctx, selectAttemptSQL+` ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query handshake attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows pgx.Rows) ([]coordinator.AttemptReport, error) {
	var out []coordinator.AttemptReport
	for rows.Next() {
		var row attemptRow
		if err := rows.Scan(&row.id, &row.attempt, &row.nodeIndex, &row.nodeName, &row.address, &row.command,
			&row.maxAttempts, &row.reason, &row.errText, &row.acked, &row.ackLatencyUs, &row.sentEpoch,
			&row.echoedEpoch, &row.skewMs, &row.readings, &row.frames, &row.flag, &row.stale,
			&row.startedAt, &row.finishedAt); err != nil {
			return nil, err
		}
		a, err := row.report()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
