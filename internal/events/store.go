package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/ligai/pkg/logging"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresWebhookStore reads webhook_configs and appends to webhook_logs.
type PostgresWebhookStore struct {
	db     rowQuerier
	logger *logging.Logger
}

func NewPostgresWebhookStore(pool *pgxpool.Pool, logger *logging.Logger) *PostgresWebhookStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return newPostgresWebhookStoreWithExec(pool, logger)
}

func newPostgresWebhookStoreWithExec(db rowQuerier, logger *logging.Logger) *PostgresWebhookStore {
	if db == nil {
		panic("events: exec required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresWebhookStore{db: db, logger: logger}
}

// ActiveWebhooks returns active configs subscribed to name. Unknown event
// names stored in a config are ignored.
func (s *PostgresWebhookStore) ActiveWebhooks(ctx context.Context, name Name) ([]WebhookConfig, error) {
	all, err := s.list(ctx, `WHERE is_active`)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, cfg := range all {
		if cfg.Subscribes(name) {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// ListWebhooks returns every config, newest first.
func (s *PostgresWebhookStore) ListWebhooks(ctx context.Context) ([]WebhookConfig, error) {
	return s.list(ctx, "")
}

func (s *PostgresWebhookStore) list(ctx context.Context, where string) ([]WebhookConfig, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, url, events, COALESCE(secret, ''), is_active, created_at
		FROM webhook_configs `+where+` ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("events: list webhooks: %w", err)
	}
	defer rows.Close()
	var out []WebhookConfig
	for rows.Next() {
		var (
			cfg    WebhookConfig
			events string
		)
		if err := rows.Scan(&cfg.ID, &cfg.URL, &events, &cfg.Secret, &cfg.Active, &cfg.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan webhook: %w", err)
		}
		cfg.Events = s.decodeNames(cfg.ID, events)
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *PostgresWebhookStore) decodeNames(id int64, raw string) []Name {
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		s.logger.Warn("webhook config has malformed events", "webhook_id", id, "error", err)
		return nil
	}
	out := make([]Name, 0, len(names))
	for _, n := range names {
		name, err := ParseName(n)
		if err != nil {
			s.logger.Warn("webhook config subscribes to unknown event", "webhook_id", id, "event", n)
			continue
		}
		out = append(out, name)
	}
	return out
}

// CreateWebhook stores a new active config.
func (s *PostgresWebhookStore) CreateWebhook(ctx context.Context, cfg WebhookConfig) (WebhookConfig, error) {
	names := make([]string, len(cfg.Events))
	for i, n := range cfg.Events {
		names[i] = string(n)
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return WebhookConfig{}, fmt.Errorf("events: encode webhook events: %w", err)
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO webhook_configs (url, events, is_active, secret)
		VALUES ($1, $2, TRUE, NULLIF($3, ''))
		RETURNING id, created_at
	`, cfg.URL, string(encoded), cfg.Secret).Scan(&cfg.ID, &cfg.CreatedAt)
	if err != nil {
		return WebhookConfig{}, fmt.Errorf("events: create webhook: %w", err)
	}
	cfg.Active = true
	return cfg, nil
}

func (s *PostgresWebhookStore) LogDelivery(ctx context.Context, d Delivery) error {
	var status *int
	if d.StatusCode > 0 {
		status = &d.StatusCode
	}
	body := d.ResponseBody
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody]
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO webhook_logs (config_id, event_type, payload, status_code, response_body, attempt, success, error_message, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9)
	`, d.ConfigID, string(d.Event), d.Payload, status, body, d.Attempt, d.Success, d.Error, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("events: log delivery: %w", err)
	}
	return nil
}
