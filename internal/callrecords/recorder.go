// Package callrecords persists call rows and their message log.
package callrecords

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/ligai/internal/call"
	"github.com/wolfman30/ligai/internal/llm"
)

var ErrNotFound = errors.New("callrecords: call not found")

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Record is a persisted call.
type Record struct {
	CallID          string        `json:"call_id"`
	ChannelID       string        `json:"freeswitch_uuid,omitempty"`
	CallerNumber    string        `json:"caller_number,omitempty"`
	CalledNumber    string        `json:"called_number,omitempty"`
	PromptID        *int64        `json:"prompt_id,omitempty"`
	Status          string        `json:"status"`
	Direction       string        `json:"direction"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	DurationSeconds *float64      `json:"duration_seconds,omitempty"`
	Messages        []llm.Message `json:"messages,omitempty"`
}

// Recorder writes the calls and call_messages tables.
type Recorder struct {
	db rowQuerier
}

func NewRecorder(pool *pgxpool.Pool) *Recorder {
	if pool == nil {
		panic("callrecords: pgx pool required")
	}
	return &Recorder{db: pool}
}

func newRecorderWithExec(db rowQuerier) *Recorder {
	if db == nil {
		panic("callrecords: exec required")
	}
	return &Recorder{db: db}
}

func numbers(s call.Summary) (caller, called string) {
	if s.Direction == call.Outbound {
		return "", s.Number
	}
	return s.Number, ""
}

func promptID(s call.Summary) *int64 {
	if s.PromptID == 0 {
		return nil
	}
	id := s.PromptID
	return &id
}

func (r *Recorder) RecordStart(ctx context.Context, s call.Summary) error {
	caller, called := numbers(s)
	_, err := r.db.Exec(ctx, `
		INSERT INTO calls (call_id, freeswitch_uuid, caller_number, called_number, prompt_id, status, direction, start_time)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8)
		ON CONFLICT (call_id) DO NOTHING
	`, s.CallID, s.ChannelID, caller, called, promptID(s), s.Status, string(s.Direction), s.StartedAt)
	if err != nil {
		return fmt.Errorf("callrecords: record start %s: %w", s.CallID, err)
	}
	return nil
}

func (r *Recorder) RecordMessage(ctx context.Context, callID string, msg llm.Message) error {
	ct, err := r.db.Exec(ctx, `
		INSERT INTO call_messages (call_id, role, content, timestamp)
		SELECT id, $2, $3, $4 FROM calls WHERE call_id = $1
	`, callID, msg.Role, msg.Content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("callrecords: record message %s: %w", callID, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Recorder) RecordEnd(ctx context.Context, s call.Summary) error {
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now().UTC()
	}
	ct, err := r.db.Exec(ctx, `
		UPDATE calls SET status = $2, end_time = $3, duration_seconds = $4
		WHERE call_id = $1
	`, s.CallID, s.Status, end, end.Sub(s.StartedAt).Seconds())
	if err != nil {
		return fmt.Errorf("callrecords: record end %s: %w", s.CallID, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const recordColumns = `call_id, COALESCE(freeswitch_uuid, ''), COALESCE(caller_number, ''), COALESCE(called_number, ''),
	prompt_id, status, direction, start_time, end_time, duration_seconds`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.CallID, &rec.ChannelID, &rec.CallerNumber, &rec.CalledNumber, &rec.PromptID,
		&rec.Status, &rec.Direction, &rec.StartTime, &rec.EndTime, &rec.DurationSeconds)
	return rec, err
}

// Recent lists the newest calls.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+recordColumns+` FROM calls ORDER BY start_time DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("callrecords: recent: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("callrecords: recent scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get loads one call with its messages in order.
func (r *Recorder) Get(ctx context.Context, callID string) (Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM calls WHERE call_id = $1`, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("callrecords: get %s: %w", callID, err)
	}
	rows, err := r.db.Query(ctx, `
		SELECT m.role, m.content FROM call_messages m
		JOIN calls c ON c.id = m.call_id
		WHERE c.call_id = $1 ORDER BY m.id
	`, callID)
	if err != nil {
		return Record{}, fmt.Errorf("callrecords: messages %s: %w", callID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var m llm.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return Record{}, fmt.Errorf("callrecords: message scan: %w", err)
		}
		rec.Messages = append(rec.Messages, m)
	}
	return rec, rows.Err()
}
