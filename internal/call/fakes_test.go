package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/ligai/internal/audio"
	"github.com/wolfman30/ligai/internal/esl"
	"github.com/wolfman30/ligai/internal/events"
	"github.com/wolfman30/ligai/internal/llm"
	"github.com/wolfman30/ligai/internal/speech"
)

type fakeStream struct {
	events chan speech.Event
	mu     sync.Mutex
	audio  [][]byte
	err    error
	closed bool
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan speech.Event, 16)}
}

func (f *fakeStream) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return speech.ErrStreamClosed
	}
	f.audio = append(f.audio, pcm)
	return nil
}

func (f *fakeStream) Events() <-chan speech.Event { return f.events }

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.events) })
	return nil
}

// lose simulates the recognizer dropping the connection.
func (f *fakeStream) lose(err error) {
	f.mu.Lock()
	f.err = err
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.events) })
}

func (f *fakeStream) frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

type fakeRecognizer struct {
	stream *fakeStream
	err    error
}

func (f *fakeRecognizer) Connect(context.Context) (speech.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type broadcast struct {
	channel string
	path    string
	at      time.Time
}

type fakeSwitch struct {
	mu         sync.Mutex
	broadcasts []broadcast
	hangups    []string
	failAll    bool
}

func (f *fakeSwitch) Broadcast(_ context.Context, channelID, path string) (esl.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, broadcast{channel: channelID, path: path, at: time.Now()})
	if f.failAll {
		return esl.Result{Raw: "-ERR no such channel"}, nil
	}
	return esl.Result{OK: true, Raw: "+OK Message sent"}, nil
}

func (f *fakeSwitch) Hangup(_ context.Context, channelID string) (esl.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, channelID)
	return esl.Result{OK: true, Raw: "+OK"}, nil
}

func (f *fakeSwitch) list() []broadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcast(nil), f.broadcasts...)
}

type fakeSynth struct {
	mu     sync.Mutex
	texts  []string
	failOn string
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.failOn != "" && text == f.failOn {
		return nil, errors.New("tts unavailable")
	}
	return make([]byte, 160), nil
}

func (f *fakeSynth) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeReplier struct {
	mu      sync.Mutex
	reply   string
	err     error
	delay   time.Duration
	doneAt  time.Time
	history []llm.Message
	system  string
}

func (f *fakeReplier) Reply(ctx context.Context, system string, history []llm.Message) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doneAt = time.Now()
	f.history = history
	f.system = system
	return f.reply, f.err
}

func (f *fakeReplier) finishedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doneAt
}

type fixedFiller struct {
	clip audio.Clip
}

func (f fixedFiller) Random() (audio.Clip, bool) { return f.clip, true }

type fakeRecorder struct {
	mu       sync.Mutex
	started  []Summary
	messages []llm.Message
	ended    []Summary
}

func (f *fakeRecorder) RecordStart(_ context.Context, s Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, s)
	return nil
}

func (f *fakeRecorder) RecordMessage(_ context.Context, _ string, msg llm.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeRecorder) RecordEnd(_ context.Context, s Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, s)
	return nil
}

func (f *fakeRecorder) endings() []Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Summary(nil), f.ended...)
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived []Summary
}

func (f *fakeArchiver) Archive(_ context.Context, s Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, s)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []events.Name
}

func (f *fakeNotifier) Emit(_ context.Context, name events.Name, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, name)
}

func (f *fakeNotifier) names() []events.Name {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Name(nil), f.events...)
}

func isFiller(path string) bool {
	return strings.Contains(path, "/fillers/")
}

// alternatingClient rejects conversations whose roles do not alternate and
// fails the first failFirst completions.
type alternatingClient struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	requests  [][]llm.Message
}

func (c *alternatingClient) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.requests = append(c.requests, append([]llm.Message(nil), req.Messages...))
	if c.calls <= c.failFirst {
		return llm.Response{}, errors.New("ThrottlingException: rate exceeded")
	}
	for i := 1; i < len(req.Messages); i++ {
		if req.Messages[i].Role == req.Messages[i-1].Role {
			return llm.Response{}, errors.New("ValidationException: roles must alternate")
		}
	}
	return llm.Response{Text: "Claro, qual horário?"}, nil
}
