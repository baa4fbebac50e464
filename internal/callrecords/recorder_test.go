package callrecords

import (
	"context"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ligai/internal/call"
	"github.com/wolfman30/ligai/internal/llm"
)

func newMock(t *testing.T) (*Recorder, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newRecorderWithExec(mock), mock
}

func TestRecordLifecycle(t *testing.T) {
	rec, mock := newMock(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	prompt := int64(4)
	sum := call.Summary{
		CallID:    "call-1",
		ChannelID: "chan-1",
		Direction: call.Outbound,
		Number:    "5511912345678",
		PromptID:  4,
		Status:    "active",
		StartedAt: start,
	}

	mock.ExpectExec("INSERT INTO calls").
		WithArgs("call-1", "chan-1", "", "5511912345678", &prompt, "active", "outbound", start).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO call_messages").
		WithArgs("call-1", "user", "Oi", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE calls SET status").
		WithArgs("call-1", "completed", start.Add(time.Minute), 60.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, rec.RecordStart(ctx, sum))
	require.NoError(t, rec.RecordMessage(ctx, "call-1", llm.Message{Role: llm.RoleUser, Content: "Oi"}))
	sum.Status = "completed"
	sum.EndedAt = start.Add(time.Minute)
	require.NoError(t, rec.RecordEnd(ctx, sum))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInboundRecordsCaller(t *testing.T) {
	rec, mock := newMock(t)
	start := time.Now().UTC()
	mock.ExpectExec("INSERT INTO calls").
		WithArgs("call-2", "chan-2", "1133334444", "", (*int64)(nil), "active", "inbound", start).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, rec.RecordStart(context.Background(), call.Summary{
		CallID: "call-2", ChannelID: "chan-2", Direction: call.Inbound, Number: "1133334444", Status: "active", StartedAt: start,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageForUnknownCall(t *testing.T) {
	rec, mock := newMock(t)
	mock.ExpectExec("INSERT INTO call_messages").
		WithArgs("ghost", "assistant", "Olá", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	err := rec.RecordMessage(context.Background(), "ghost", llm.Message{Role: llm.RoleAssistant, Content: "Olá"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetWithMessages(t *testing.T) {
	rec, mock := newMock(t)
	start := time.Now().UTC()

	mock.ExpectQuery("FROM calls WHERE call_id").WithArgs("call-3").
		WillReturnRows(pgxmock.NewRows([]string{"call_id", "freeswitch_uuid", "caller_number", "called_number",
			"prompt_id", "status", "direction", "start_time", "end_time", "duration_seconds"}).
			AddRow("call-3", "chan-3", "", "5511912345678", nil, "completed", "outbound", start, nil, nil))
	mock.ExpectQuery("FROM call_messages").WithArgs("call-3").
		WillReturnRows(pgxmock.NewRows([]string{"role", "content"}).
			AddRow("assistant", "Olá!").
			AddRow("user", "Oi"))

	got, err := rec.Get(context.Background(), "call-3")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Oi", got.Messages[1].Content)

	mock.ExpectQuery("FROM calls WHERE call_id").WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	_, err = rec.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
