package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/ligai/pkg/logging"
)

var errUnknownMessage = errors.New("speech: unknown recognizer message")

// DeepgramConfig configures the streaming recognizer.
type DeepgramConfig struct {
	APIKey      string
	URL         string
	Model       string
	Language    string
	SampleRate  int
	Endpointing time.Duration
	KeepAlive   time.Duration
}

// DeepgramRecognizer streams linear16 audio to Deepgram's live endpoint.
type DeepgramRecognizer struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
	logger *logging.Logger
}

// NewDeepgramRecognizer validates cfg and fills defaults.
func NewDeepgramRecognizer(cfg DeepgramConfig, logger *logging.Logger) (*DeepgramRecognizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("speech: deepgram api key is required")
	}
	if cfg.URL == "" {
		cfg.URL = "wss://api.deepgram.com/v1/listen"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "pt-BR"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Endpointing <= 0 {
		cfg.Endpointing = 300 * time.Millisecond
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 8 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DeepgramRecognizer{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}, nil
}

func (d *DeepgramRecognizer) listenURL() (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("speech: parse deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("language", d.cfg.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", strconv.FormatInt(d.cfg.Endpointing.Milliseconds(), 10))
	q.Set("vad_events", "true")
	q.Set("smart_format", "true")
	q.Set("utterance_end_ms", "1000")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect opens a live session.
func (d *DeepgramRecognizer) Connect(ctx context.Context) (Stream, error) {
	target, err := d.listenURL()
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, target, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("speech: deepgram connect (status %d): %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), err)
		}
		return nil, fmt.Errorf("speech: deepgram connect: %w", err)
	}

	s := &deepgramStream{
		conn:   conn,
		events: make(chan Event, 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: d.logger,
	}
	go s.readLoop()
	go s.keepAlive(d.cfg.KeepAlive)
	return s, nil
}

type deepgramStream struct {
	conn    *websocket.Conn
	events  chan Event
	quit    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error
	logger  *logging.Logger
}

func (s *deepgramStream) Events() <-chan Event { return s.events }

func (s *deepgramStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *deepgramStream) SendAudio(pcm []byte) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("speech: send audio: %w", err)
	}
	return nil
}

func (s *deepgramStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.quit)
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	s.writeMu.Unlock()
	err := s.conn.Close()
	<-s.done
	return err
}

func (s *deepgramStream) readLoop() {
	defer func() {
		close(s.events)
		close(s.done)
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				s.errMu.Lock()
				s.err = fmt.Errorf("speech: deepgram stream lost: %w", err)
				s.errMu.Unlock()
			}
			return
		}
		ev, ok, err := decodeDeepgram(data)
		if err != nil {
			s.logger.Debug("ignoring recognizer message", "error", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.quit:
			return
		}
	}
}

func (s *deepgramStream) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.closed.Load() {
				return
			}
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// decodeDeepgram maps one server message onto an Event. ok is false for
// messages that carry nothing for the session (metadata, empty results).
func decodeDeepgram(data []byte) (Event, bool, error) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false, fmt.Errorf("speech: decode recognizer message: %w", err)
	}
	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return Event{}, false, nil
		}
		text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		if text == "" {
			return Event{}, false, nil
		}
		return Event{Kind: EventTranscript, Text: text, Final: msg.IsFinal}, true, nil
	case "SpeechStarted":
		return Event{Kind: EventSpeechStarted}, true, nil
	case "UtteranceEnd":
		return Event{Kind: EventSpeechEnded}, true, nil
	case "Metadata":
		return Event{}, false, nil
	default:
		return Event{}, false, fmt.Errorf("%w: %q", errUnknownMessage, msg.Type)
	}
}
