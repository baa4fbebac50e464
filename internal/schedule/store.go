// Package schedule places calls at a requested time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is the lifecycle of a scheduled call.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound      = errors.New("schedule: not found")
	ErrUnknownStatus = errors.New("schedule: unknown status")
	ErrNotPending    = errors.New("schedule: call is no longer pending")
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusExecuting, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// Call is one scheduled outbound call.
type Call struct {
	ID            int64     `json:"id"`
	PhoneNumber   string    `json:"phone_number"`
	PromptID      *int64    `json:"prompt_id,omitempty"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Status        Status    `json:"status"`
	CallID        string    `json:"call_id,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists scheduled calls. Claim succeeds for exactly one caller.
type Store interface {
	Create(ctx context.Context, c Call) (Call, error)
	List(ctx context.Context) ([]Call, error)
	Due(ctx context.Context, until time.Time) ([]Call, error)
	Claim(ctx context.Context, id int64) error
	Finish(ctx context.Context, id int64, status Status, callID string) error
	Cancel(ctx context.Context, id int64) error
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore uses the scheduled_calls table.
type PostgresStore struct {
	db rowQuerier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("schedule: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithExec(db rowQuerier) *PostgresStore {
	if db == nil {
		panic("schedule: exec required")
	}
	return &PostgresStore{db: db}
}

const callColumns = `id, phone_number, prompt_id, scheduled_time, status, COALESCE(call_id, ''), COALESCE(notes, ''), created_at, updated_at`

func scanCall(row pgx.Row) (Call, error) {
	var (
		c      Call
		status string
	)
	if err := row.Scan(&c.ID, &c.PhoneNumber, &c.PromptID, &c.ScheduledTime, &status, &c.CallID, &c.Notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Call{}, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return Call{}, err
	}
	c.Status = st
	return c, nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Call, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, c Call) (Call, error) {
	out, err := scanCall(s.db.QueryRow(ctx, `
		INSERT INTO scheduled_calls (phone_number, prompt_id, scheduled_time, status, notes)
		VALUES ($1, $2, $3, 'pending', NULLIF($4, ''))
		RETURNING `+callColumns, c.PhoneNumber, c.PromptID, c.ScheduledTime.UTC(), c.Notes))
	if err != nil {
		return Call{}, fmt.Errorf("schedule: create: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Call, error) {
	out, err := s.query(ctx, `SELECT `+callColumns+` FROM scheduled_calls ORDER BY scheduled_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("schedule: list: %w", err)
	}
	return out, nil
}

// Due returns pending calls scheduled at or before until, oldest first.
func (s *PostgresStore) Due(ctx context.Context, until time.Time) ([]Call, error) {
	out, err := s.query(ctx, `
		SELECT `+callColumns+` FROM scheduled_calls
		WHERE status = 'pending' AND scheduled_time <= $1
		ORDER BY scheduled_time`, until.UTC())
	if err != nil {
		return nil, fmt.Errorf("schedule: due: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Claim(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusExecuting, "", StatusPending)
}

func (s *PostgresStore) Finish(ctx context.Context, id int64, status Status, callID string) error {
	return s.transition(ctx, id, status, callID, StatusExecuting)
}

func (s *PostgresStore) Cancel(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusCancelled, "", StatusPending)
}

func (s *PostgresStore) transition(ctx context.Context, id int64, to Status, callID string, from Status) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE scheduled_calls
		SET status = $2, call_id = COALESCE(NULLIF($3, ''), call_id), updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, string(to), callID, string(from))
	if err != nil {
		return fmt.Errorf("schedule: set %d to %s: %w", id, to, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrNotPending, id)
	}
	return nil
}

// MemoryStore is the Store used when no database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	calls  map[int64]*Call
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[int64]*Call)}
}

func (m *MemoryStore) Create(_ context.Context, c Call) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := time.Now().UTC()
	c.ID = m.nextID
	c.Status = StatusPending
	c.ScheduledTime = c.ScheduledTime.UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	m.calls[c.ID] = &c
	return c, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.After(out[j].ScheduledTime) })
	return out, nil
}

func (m *MemoryStore) Due(_ context.Context, until time.Time) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Status == StatusPending && !c.ScheduledTime.After(until) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out, nil
}

func (m *MemoryStore) Get(id int64) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return *c, nil
}

func (m *MemoryStore) Claim(_ context.Context, id int64) error {
	return m.transition(id, StatusExecuting, "", StatusPending)
}

func (m *MemoryStore) Finish(_ context.Context, id int64, status Status, callID string) error {
	return m.transition(id, status, callID, StatusExecuting)
}

func (m *MemoryStore) Cancel(_ context.Context, id int64) error {
	return m.transition(id, StatusCancelled, "", StatusPending)
}

func (m *MemoryStore) transition(id int64, to Status, callID string, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status != from {
		return fmt.Errorf("%w: %d", ErrNotPending, id)
	}
	c.Status = to
	if callID != "" {
		c.CallID = callID
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}
