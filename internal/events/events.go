// Package events fans call and campaign notifications out to webhooks,
// an SQS queue and the log.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/ligai/pkg/logging"
)

// Name identifies a notification.
type Name string

const (
	CallStarted       Name = "call.started"
	CallEnded         Name = "call.ended"
	CallFailed        Name = "call.failed"
	CallStateChanged  Name = "call.state_changed"
	CampaignCompleted Name = "campaign.completed"
)

var ErrUnknownEvent = errors.New("events: unknown event name")

// ParseName accepts only the names above.
func ParseName(s string) (Name, error) {
	switch n := Name(strings.TrimSpace(s)); n {
	case CallStarted, CallEnded, CallFailed, CallStateChanged, CampaignCompleted:
		return n, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
	}
}

// Names lists every event a webhook can subscribe to.
func Names() []Name {
	return []Name{CallStarted, CallEnded, CallFailed, CallStateChanged, CampaignCompleted}
}

// Envelope is the JSON body delivered to every subscriber.
type Envelope struct {
	Event     Name           `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func newEnvelope(name Name, data map[string]any) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{Event: name, Timestamp: time.Now().UTC(), Data: data}
}

// Notifier publishes an event. Emit must not block on slow subscribers.
type Notifier interface {
	Emit(ctx context.Context, name Name, data map[string]any)
}

// Multi forwards every event to each notifier in order.
type Multi []Notifier

func (m Multi) Emit(ctx context.Context, name Name, data map[string]any) {
	for _, n := range m {
		if n != nil {
			n.Emit(ctx, name, data)
		}
	}
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger *logging.Logger
}

func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Emit(_ context.Context, name Name, data map[string]any) {
	l.logger.Info("event emitted", "event", string(name), "data", data)
}
