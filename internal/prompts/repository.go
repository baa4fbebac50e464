// Package prompts stores the conversation profiles calls speak with.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/ligai/internal/call"
)

var (
	ErrNotFound     = errors.New("prompts: not found")
	ErrInvalidInput = errors.New("prompts: invalid input")
)

// Prompt is a persisted conversation profile.
type Prompt struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt"`
	VoiceID      string    `json:"voice_id"`
	LLMModel     string    `json:"llm_model"`
	Temperature  float64   `json:"temperature"`
	GreetingText string    `json:"greeting_text,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the part of the prompt a call session uses.
func (p Prompt) Profile() call.Profile {
	return call.Profile{
		PromptID:     p.ID,
		Name:         p.Name,
		SystemPrompt: p.SystemPrompt,
		Greeting:     p.GreetingText,
		VoiceID:      p.VoiceID,
	}
}

func (p Prompt) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return fmt.Errorf("%w: system_prompt is required", ErrInvalidInput)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidInput)
	}
	return nil
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads and writes the prompts table.
type Repository struct {
	db rowQuerier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("prompts: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithExec(db rowQuerier) *Repository {
	if db == nil {
		panic("prompts: exec required")
	}
	return &Repository{db: db}
}

const promptColumns = `id, name, COALESCE(description, ''), system_prompt, voice_id, llm_model, temperature,
	COALESCE(greeting_text, ''), is_active, created_at, updated_at`

func scanPrompt(row pgx.Row) (Prompt, error) {
	var p Prompt
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.SystemPrompt, &p.VoiceID, &p.LLMModel,
		&p.Temperature, &p.GreetingText, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) Get(ctx context.Context, id int64) (Prompt, error) {
	p, err := scanPrompt(r.db.QueryRow(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Prompt{}, ErrNotFound
		}
		return Prompt{}, fmt.Errorf("prompts: get %d: %w", id, err)
	}
	return p, nil
}

// Active returns the prompt flagged active, if any.
func (r *Repository) Active(ctx context.Context) (Prompt, bool, error) {
	p, err := scanPrompt(r.db.QueryRow(ctx, `SELECT `+promptColumns+` FROM prompts WHERE is_active LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Prompt{}, false, nil
		}
		return Prompt{}, false, fmt.Errorf("prompts: active: %w", err)
	}
	return p, true, nil
}

func (r *Repository) List(ctx context.Context) ([]Prompt, error) {
	rows, err := r.db.Query(ctx, `SELECT `+promptColumns+` FROM prompts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("prompts: list: %w", err)
	}
	defer rows.Close()
	var out []Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("prompts: list scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) Create(ctx context.Context, p Prompt) (Prompt, error) {
	if p.VoiceID == "" {
		p.VoiceID = "pt-BR-isadora"
	}
	if p.LLMModel == "" {
		p.LLMModel = "default"
	}
	if err := p.validate(); err != nil {
		return Prompt{}, err
	}
	out, err := scanPrompt(r.db.QueryRow(ctx, `
		INSERT INTO prompts (name, description, system_prompt, voice_id, llm_model, temperature, greeting_text)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING `+promptColumns,
		p.Name, p.Description, p.SystemPrompt, p.VoiceID, p.LLMModel, p.Temperature, p.GreetingText))
	if err != nil {
		return Prompt{}, fmt.Errorf("prompts: create: %w", err)
	}
	return out, nil
}

// Activate makes id the only active prompt.
func (r *Repository) Activate(ctx context.Context, id int64) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE prompts SET is_active = (id = $1), updated_at = NOW()
		WHERE EXISTS (SELECT 1 FROM prompts WHERE id = $1)
	`, id)
	if err != nil {
		return fmt.Errorf("prompts: activate %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveProfile supplies inbound sessions with the active prompt.
func (r *Repository) ActiveProfile(ctx context.Context) (call.Profile, bool, error) {
	p, ok, err := r.Active(ctx)
	if err != nil || !ok {
		return call.Profile{}, ok, err
	}
	return p.Profile(), true, nil
}

// Profile resolves a campaign or schedule prompt by id.
func (r *Repository) Profile(ctx context.Context, id int64) (call.Profile, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return call.Profile{}, err
	}
	return p.Profile(), nil
}
