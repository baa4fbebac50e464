package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ligai.internal.llm")

// ErrEmptyReply is returned when the provider answers with no text.
var ErrEmptyReply = errors.New("llm: empty reply")

// ResponderConfig bounds every reply request.
type ResponderConfig struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
	HistoryTurns int
}

// Responder turns a call's history into the next assistant utterance.
type Responder struct {
	client Client
	cfg    ResponderConfig
}

func NewResponder(client Client, cfg ResponderConfig) *Responder {
	if client == nil {
		panic("llm: client cannot be nil")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}
	return &Responder{client: client, cfg: cfg}
}

// Reply sends the system prompt and the most recent turns of history.
func (r *Responder) Reply(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.reply", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	history = window(history, r.cfg.HistoryTurns)
	span.SetAttributes(attribute.Int("llm.history", len(history)))

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var system []string
	if s := strings.TrimSpace(systemPrompt); s != "" {
		system = []string{s}
	}
	resp, err := r.client.Complete(ctx, Request{
		Model:       r.cfg.Model,
		System:      system,
		Messages:    history,
		MaxTokens:   int32(r.cfg.MaxTokens),
		Temperature: float32(r.cfg.Temperature),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", fmt.Errorf("llm: reply: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		span.SetStatus(codes.Error, "empty reply")
		return "", ErrEmptyReply
	}
	span.SetAttributes(
		attribute.Int("llm.tokens.input", int(resp.Usage.InputTokens)),
		attribute.Int("llm.tokens.output", int(resp.Usage.OutputTokens)),
	)
	return text, nil
}

// window keeps the last n messages, starting at a user turn. Consecutive
// turns from the same role are joined: Converse requires roles to alternate,
// and a failed reply leaves two user turns in a row.
func window(history []Message, n int) []Message {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	for len(history) > 0 && history[0].Role != RoleUser {
		history = history[1:]
	}
	out := make([]Message, 0, len(history))
	for _, m := range history {
		if last := len(out) - 1; last >= 0 && out[last].Role == m.Role {
			out[last].Content += "\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
