package campaign

import (
	"context"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var campaignCols = []string{"id", "name", "description", "prompt_id", "status", "max_concurrent",
	"total_contacts", "completed_contacts", "failed_contacts", "created_at", "updated_at", "started_at", "completed_at"}

var contactCols = []string{"id", "campaign_id", "phone_number", "name", "extra_data", "status", "call_id",
	"attempts", "last_attempt_at", "completed_at", "error_message"}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresStoreWithExec(mock), mock
}

func TestPostgresStoreGet(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM campaigns WHERE id").WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows(campaignCols).
			AddRow(int64(4), "Black Friday", "", nil, "running", 5, 10, 3, 1, created, created, nil, nil))
	c, err := store.Get(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, c.Status)
	assert.Equal(t, 10, c.TotalContacts)
	assert.Nil(t, c.PromptID)

	mock.ExpectQuery("FROM campaigns WHERE id").WithArgs(int64(5)).WillReturnError(pgx.ErrNoRows)
	_, err = store.Get(context.Background(), 5)
	assert.ErrorIs(t, err, ErrCampaignNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRejectsUnknownStatus(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("FROM campaigns WHERE id").WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(campaignCols).
			AddRow(int64(1), "x", "", nil, "archived", 5, 0, 0, 0, now, now, nil, nil))
	_, err := store.Get(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestPostgresStoreTransition(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE campaigns").
		WithArgs(int64(1), "running", now, []string{"pending", "paused"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.Transition(context.Background(), 1, []Status{StatusPending, StatusPaused}, StatusRunning, now))

	mock.ExpectExec("UPDATE campaigns").
		WithArgs(int64(1), "paused", now, []string{"running"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("FROM campaigns WHERE id").WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(campaignCols).
			AddRow(int64(1), "x", "", nil, "completed", 5, 0, 0, 0, now, now, nil, nil))
	err := store.Transition(context.Background(), 1, []Status{StatusRunning}, StatusPaused, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreClaimNext(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WithArgs(int64(2), now).
		WillReturnRows(pgxmock.NewRows(contactCols).
			AddRow(int64(11), int64(2), "5511912345678", "Ana", nil, "calling", "", 1, nil, nil, ""))
	c, ok, err := store.ClaimNext(context.Background(), 2, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(11), c.ID)
	assert.Equal(t, ContactCalling, c.Status)
	assert.Equal(t, 1, c.Attempts)

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WithArgs(int64(2), now).WillReturnError(pgx.ErrNoRows)
	_, ok, err = store.ClaimNext(context.Background(), 2, now)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreContactUpdates(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	ctx := context.Background()

	mock.ExpectExec("UPDATE campaign_contacts SET call_id").WithArgs(int64(3), "call-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET status = 'completed'").WithArgs(int64(3), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET status = 'failed'").WithArgs(int64(4), "Failed to initiate call").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT COUNT").WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	require.NoError(t, store.SetContactCall(ctx, 3, "call-1"))
	require.NoError(t, store.CompleteContact(ctx, 3, now))
	require.NoError(t, store.FailContact(ctx, 4, "Failed to initiate call"))
	n, err := store.CountCalling(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRefreshStats(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("GROUP BY status").WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("completed", 6).
			AddRow("failed", 2).
			AddRow("pending", 2))
	mock.ExpectExec("UPDATE campaigns").WithArgs(int64(2), 10, 6, 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	stats, err := store.RefreshStats(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 10, Pending: 2, Completed: 6, Failed: 2, SuccessRate: 60}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAddContacts(t *testing.T) {
	store, mock := newMockStore(t)
	extra := `{"city":"Recife"}`

	mock.ExpectExec("INSERT INTO campaign_contacts").WithArgs(int64(2), "5581999990000", "Ana", &extra).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO campaign_contacts").WithArgs(int64(2), "5581999990001", "", (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("SET total_contacts").WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := store.AddContacts(context.Background(), 2, []Contact{
		{PhoneNumber: "5581999990000", Name: "Ana", ExtraData: map[string]string{"city": "Recife"}},
		{PhoneNumber: "5581999990001"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRequiresPool(t *testing.T) {
	assert.Panics(t, func() { NewPostgresStore(nil) })
}
