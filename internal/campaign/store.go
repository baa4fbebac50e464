package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists campaigns and their contact queues. ClaimNext must hand a
// contact to at most one caller.
type Store interface {
	Create(ctx context.Context, c Campaign) (Campaign, error)
	Get(ctx context.Context, id int64) (Campaign, error)
	List(ctx context.Context) ([]Campaign, error)
	Transition(ctx context.Context, id int64, from []Status, to Status, now time.Time) error
	AddContacts(ctx context.Context, campaignID int64, contacts []Contact) (int, error)
	Contacts(ctx context.Context, campaignID int64) ([]Contact, error)
	CountCalling(ctx context.Context, campaignID int64) (int, error)
	ClaimNext(ctx context.Context, campaignID int64, now time.Time) (Contact, bool, error)
	SetContactCall(ctx context.Context, contactID int64, callID string) error
	CompleteContact(ctx context.Context, contactID int64, now time.Time) error
	FailContact(ctx context.Context, contactID int64, reason string) error
	RefreshStats(ctx context.Context, campaignID int64) (Stats, error)
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps campaigns in the campaigns and campaign_contacts tables.
type PostgresStore struct {
	db rowQuerier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("campaign: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithExec(db rowQuerier) *PostgresStore {
	if db == nil {
		panic("campaign: exec required")
	}
	return &PostgresStore{db: db}
}

const campaignColumns = `id, name, COALESCE(description, ''), prompt_id, status, max_concurrent,
	total_contacts, completed_contacts, failed_contacts, created_at, updated_at, started_at, completed_at`

func scanCampaign(row pgx.Row) (Campaign, error) {
	var (
		c      Campaign
		status string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.PromptID, &status, &c.MaxConcurrent,
		&c.TotalContacts, &c.CompletedContacts, &c.FailedContacts, &c.CreatedAt, &c.UpdatedAt,
		&c.StartedAt, &c.CompletedAt); err != nil {
		return Campaign{}, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return Campaign{}, err
	}
	c.Status = st
	return c, nil
}

func (s *PostgresStore) Create(ctx context.Context, c Campaign) (Campaign, error) {
	query := `
		INSERT INTO campaigns (name, description, prompt_id, status, max_concurrent)
		VALUES ($1, NULLIF($2, ''), $3, 'pending', $4)
		RETURNING ` + campaignColumns
	out, err := scanCampaign(s.db.QueryRow(ctx, query, c.Name, c.Description, c.PromptID, c.MaxConcurrent))
	if err != nil {
		return Campaign{}, fmt.Errorf("campaign: create: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Campaign{}, ErrCampaignNotFound
		}
		return Campaign{}, fmt.Errorf("campaign: get %d: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Campaign, error) {
	rows, err := s.db.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("campaign: list: %w", err)
	}
	defer rows.Close()
	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("campaign: list scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Transition moves a campaign to status to when its current status is one
// of from. started_at is stamped on the first move to running and
// completed_at on completion.
func (s *PostgresStore) Transition(ctx context.Context, id int64, from []Status, to Status, now time.Time) error {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	query := `
		UPDATE campaigns
		SET status = $2,
			started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, $3) ELSE started_at END,
			completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END,
			updated_at = $3
		WHERE id = $1 AND status = ANY($4)
	`
	ct, err := s.db.Exec(ctx, query, id, string(to), now, allowed)
	if err != nil {
		return fmt.Errorf("campaign: transition %d to %s: %w", id, to, err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: campaign %d to %s", ErrInvalidTransition, id, to)
}

func (s *PostgresStore) AddContacts(ctx context.Context, campaignID int64, contacts []Contact) (int, error) {
	added := 0
	for _, c := range contacts {
		extra, err := encodeExtra(c.ExtraData)
		if err != nil {
			return added, err
		}
		if _, err := s.db.Exec(ctx, `
			INSERT INTO campaign_contacts (campaign_id, phone_number, name, extra_data, status)
			VALUES ($1, $2, NULLIF($3, ''), $4, 'pending')
		`, campaignID, c.PhoneNumber, c.Name, extra); err != nil {
			return added, fmt.Errorf("campaign: add contact: %w", err)
		}
		added++
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE campaigns
		SET total_contacts = (SELECT COUNT(*) FROM campaign_contacts WHERE campaign_id = $1), updated_at = NOW()
		WHERE id = $1
	`, campaignID); err != nil {
		return added, fmt.Errorf("campaign: update totals: %w", err)
	}
	return added, nil
}

func (s *PostgresStore) Contacts(ctx context.Context, campaignID int64) ([]Contact, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, campaign_id, phone_number, COALESCE(name, ''), extra_data, status, COALESCE(call_id, ''),
			attempts, last_attempt_at, completed_at, COALESCE(error_message, '')
		FROM campaign_contacts WHERE campaign_id = $1 ORDER BY id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign: contacts: %w", err)
	}
	defer rows.Close()
	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("campaign: contacts scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContact(row pgx.Row) (Contact, error) {
	var (
		c      Contact
		extra  *string
		status string
	)
	if err := row.Scan(&c.ID, &c.CampaignID, &c.PhoneNumber, &c.Name, &extra, &status, &c.CallID,
		&c.Attempts, &c.LastAttemptAt, &c.CompletedAt, &c.ErrorMessage); err != nil {
		return Contact{}, err
	}
	st, err := ParseContactStatus(status)
	if err != nil {
		return Contact{}, err
	}
	c.Status = st
	if extra != nil && *extra != "" {
		if err := json.Unmarshal([]byte(*extra), &c.ExtraData); err != nil {
			return Contact{}, fmt.Errorf("decode extra_data: %w", err)
		}
	}
	return c, nil
}

func (s *PostgresStore) CountCalling(ctx context.Context, campaignID int64) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM campaign_contacts WHERE campaign_id = $1 AND status = 'calling'
	`, campaignID).Scan(&n); err != nil {
		return 0, fmt.Errorf("campaign: count calling: %w", err)
	}
	return n, nil
}

// ClaimNext moves the oldest pending contact to calling in one statement.
// SKIP LOCKED keeps concurrent loops from claiming the same row.
func (s *PostgresStore) ClaimNext(ctx context.Context, campaignID int64, now time.Time) (Contact, bool, error) {
	query := `
		UPDATE campaign_contacts
		SET status = 'calling', attempts = attempts + 1, last_attempt_at = $2
		WHERE id = (
			SELECT id FROM campaign_contacts
			WHERE campaign_id = $1 AND status = 'pending'
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, campaign_id, phone_number, COALESCE(name, ''), extra_data, status, COALESCE(call_id, ''),
			attempts, last_attempt_at, completed_at, COALESCE(error_message, '')
	`
	c, err := scanContact(s.db.QueryRow(ctx, query, campaignID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, false, nil
		}
		return Contact{}, false, fmt.Errorf("campaign: claim next: %w", err)
	}
	return c, true, nil
}

func (s *PostgresStore) SetContactCall(ctx context.Context, contactID int64, callID string) error {
	if _, err := s.db.Exec(ctx, `UPDATE campaign_contacts SET call_id = $2 WHERE id = $1`, contactID, callID); err != nil {
		return fmt.Errorf("campaign: set call id: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteContact(ctx context.Context, contactID int64, now time.Time) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE campaign_contacts SET status = 'completed', completed_at = $2 WHERE id = $1
	`, contactID, now); err != nil {
		return fmt.Errorf("campaign: complete contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailContact(ctx context.Context, contactID int64, reason string) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE campaign_contacts SET status = 'failed', error_message = $2 WHERE id = $1
	`, contactID, reason); err != nil {
		return fmt.Errorf("campaign: fail contact: %w", err)
	}
	return nil
}

// RefreshStats recomputes the aggregate counters from contact statuses.
func (s *PostgresStore) RefreshStats(ctx context.Context, campaignID int64) (Stats, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, COUNT(*) FROM campaign_contacts WHERE campaign_id = $1 GROUP BY status
	`, campaignID)
	if err != nil {
		return Stats{}, fmt.Errorf("campaign: stats: %w", err)
	}
	var stats Stats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("campaign: stats scan: %w", err)
		}
		st, err := ParseContactStatus(status)
		if err != nil {
			rows.Close()
			return Stats{}, err
		}
		stats.add(st, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("campaign: stats rows: %w", err)
	}
	stats.finish()

	if _, err := s.db.Exec(ctx, `
		UPDATE campaigns
		SET total_contacts = $2, completed_contacts = $3, failed_contacts = $4, updated_at = NOW()
		WHERE id = $1
	`, campaignID, stats.Total, stats.Completed, stats.Failed); err != nil {
		return Stats{}, fmt.Errorf("campaign: update stats: %w", err)
	}
	return stats, nil
}

func encodeExtra(extra map[string]string) (*string, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("campaign: encode extra_data: %w", err)
	}
	s := string(b)
	return &s, nil
}
