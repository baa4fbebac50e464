// Package speech adapts streaming speech-to-text and request/response
// text-to-speech services to the 8 kHz mono 16-bit PCM the switch uses.
package speech

import (
	"context"
	"errors"
)

// EventKind enumerates recognizer events.
type EventKind int

const (
	EventTranscript EventKind = iota + 1
	EventSpeechStarted
	EventSpeechEnded
)

func (k EventKind) String() string {
	switch k {
	case EventTranscript:
		return "transcript"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechEnded:
		return "speech_ended"
	default:
		return "unknown"
	}
}

// Event is one recognizer output. Text and Final are set for transcripts only.
type Event struct {
	Kind  EventKind
	Text  string
	Final bool
}

// Stream is a live recognition session. Events is closed when the session
// ends; Err then reports why (nil after a local Close).
type Stream interface {
	SendAudio(pcm []byte) error
	Events() <-chan Event
	Err() error
	Close() error
}

// Recognizer opens recognition streams.
type Recognizer interface {
	Connect(ctx context.Context) (Stream, error)
}

// Synthesizer turns text into raw 8 kHz mono 16-bit little-endian PCM.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

var (
	ErrEmptyText    = errors.New("speech: text is empty")
	ErrStreamClosed = errors.New("speech: stream closed")
	ErrEmptyAudio   = errors.New("speech: synthesizer returned no audio")
)
