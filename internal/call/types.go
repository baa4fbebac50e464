// Package call runs live phone conversations: one Session per switch audio
// connection, tracked in a Registry that also drives admission control.
package call

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/ligai/internal/audio"
	"github.com/wolfman30/ligai/internal/esl"
	"github.com/wolfman30/ligai/internal/llm"
)

// State is the conversation turn-taking state.
type State int

const (
	StateIdle State = iota + 1
	StateProcessing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Direction tells whether this process dialed the call.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

var (
	ErrDuplicateCall   = errors.New("call: call id already registered")
	ErrPendingNotFound = errors.New("call: pending call not found")
	ErrMissingService  = errors.New("call: required service missing")
)

// NewID returns a call identifier of the form call-<unix>-<8 hex>.
func NewID(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("call-%d-%s", now.Unix(), hex.EncodeToString(b[:]))
}

// Profile is the prompt configuration a call speaks with.
type Profile struct {
	PromptID     int64  `json:"prompt_id,omitempty"`
	Name         string `json:"name,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Greeting     string `json:"greeting,omitempty"`
	VoiceID      string `json:"voice_id,omitempty"`
}

// Pending links an originated call id to what the dialer knew about it.
type Pending struct {
	CallID     string    `json:"call_id"`
	Number     string    `json:"number"`
	Source     string    `json:"source"`
	CampaignID int64     `json:"campaign_id,omitempty"`
	ContactID  int64     `json:"contact_id,omitempty"`
	Profile    *Profile  `json:"profile,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PendingStore holds Pending entries until the audio connection arrives.
// Take removes the entry; a second Take returns ErrPendingNotFound.
type PendingStore interface {
	Put(ctx context.Context, p Pending) error
	Take(ctx context.Context, callID string) (Pending, error)
}

// Summary describes a call for persistence and archival.
type Summary struct {
	CallID    string        `json:"call_id"`
	ChannelID string        `json:"channel_id"`
	Direction Direction     `json:"direction"`
	Number    string        `json:"number,omitempty"`
	PromptID  int64         `json:"prompt_id,omitempty"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at,omitempty"`
	History   []llm.Message `json:"history,omitempty"`
}

// Duration is EndedAt-StartedAt, or zero while the call is live.
func (s Summary) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Snapshot is the live view of a session.
type Snapshot struct {
	CallID    string    `json:"call_id"`
	ChannelID string    `json:"channel_id"`
	Direction Direction `json:"direction"`
	Number    string    `json:"number,omitempty"`
	State     string    `json:"state"`
	Messages  int       `json:"messages"`
	Speaking  bool      `json:"user_speaking"`
	Partial   string    `json:"partial_transcript,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Switch is the subset of the control-port client a session uses.
type Switch interface {
	Broadcast(ctx context.Context, channelID, path string) (esl.Result, error)
	Hangup(ctx context.Context, channelID string) (esl.Result, error)
}

// Replier generates the assistant's next utterance.
type Replier interface {
	Reply(ctx context.Context, systemPrompt string, history []llm.Message) (string, error)
}

// ClipStore materializes speech on the shared audio mount.
type ClipStore interface {
	SaveTemp(pcm []byte) (audio.Clip, error)
	Remove(clip audio.Clip) error
}

// FillerSource hands out pre-rendered acknowledgement clips.
type FillerSource interface {
	Random() (audio.Clip, bool)
}

// Recorder persists call records.
type Recorder interface {
	RecordStart(ctx context.Context, s Summary) error
	RecordMessage(ctx context.Context, callID string, msg llm.Message) error
	RecordEnd(ctx context.Context, s Summary) error
}

// Archiver stores the finished transcript.
type Archiver interface {
	Archive(ctx context.Context, s Summary) error
}

// StateMirror publishes live snapshots for other processes.
type StateMirror interface {
	Publish(ctx context.Context, snap Snapshot) error
}
