package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ligai/pkg/logging"
)

func TestDecodeDeepgram(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   Event
		ok     bool
		hasErr bool
	}{
		{"final transcript", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" quero agendar "}]}}`, Event{Kind: EventTranscript, Text: "quero agendar", Final: true}, true, false},
		{"interim transcript", `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"quero"}]}}`, Event{Kind: EventTranscript, Text: "quero"}, true, false},
		{"empty transcript", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"  "}]}}`, Event{}, false, false},
		{"no alternatives", `{"type":"Results","channel":{}}`, Event{}, false, false},
		{"speech started", `{"type":"SpeechStarted"}`, Event{Kind: EventSpeechStarted}, true, false},
		{"utterance end", `{"type":"UtteranceEnd"}`, Event{Kind: EventSpeechEnded}, true, false},
		{"metadata", `{"type":"Metadata"}`, Event{}, false, false},
		{"unknown type", `{"type":"Bogus"}`, Event{}, false, true},
		{"not json", `nope`, Event{}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := decodeDeepgram([]byte(tt.input))
			if tt.hasErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "transcript", EventTranscript.String())
	assert.Equal(t, "speech_ended", EventSpeechEnded.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestDeepgramStreamDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAudio := make(chan []byte, 1)
	var gotQuery, gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msgType, data, err := conn.ReadMessage()
		if err != nil || msgType != websocket.BinaryMessage {
			return
		}
		gotAudio <- data
		for _, msg := range []string{
			`{"type":"Metadata"}`,
			`{"type":"SpeechStarted"}`,
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"olá"}]}}`,
			`{"type":"UtteranceEnd"}`,
		} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		// Wait for CloseStream.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	rec, err := NewDeepgramRecognizer(DeepgramConfig{APIKey: "dg-key", URL: wsURL(server)}, logging.New("error"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := rec.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, stream.SendAudio([]byte{1, 2, 3, 4}))
	assert.Equal(t, []byte{1, 2, 3, 4}, <-gotAudio)

	var got []Event
	for len(got) < 3 {
		select {
		case ev := <-stream.Events():
			got = append(got, ev)
		case <-ctx.Done():
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []Event{
		{Kind: EventSpeechStarted},
		{Kind: EventTranscript, Text: "olá", Final: true},
		{Kind: EventSpeechEnded},
	}, got)

	assert.Equal(t, "Token dg-key", gotAuth)
	assert.Contains(t, gotQuery, "encoding=linear16")
	assert.Contains(t, gotQuery, "sample_rate=8000")
	assert.Contains(t, gotQuery, "language=pt-BR")

	require.NoError(t, stream.Close())
	assert.NoError(t, stream.Err())
	assert.ErrorIs(t, stream.SendAudio([]byte{0, 0}), ErrStreamClosed)
	require.NoError(t, stream.Close())
}

func TestDeepgramStreamReportsRemoteClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	rec, err := NewDeepgramRecognizer(DeepgramConfig{APIKey: "k", URL: wsURL(server)}, nil)
	require.NoError(t, err)
	stream, err := rec.Connect(context.Background())
	require.NoError(t, err)

	select {
	case _, ok := <-stream.Events():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("events channel was not closed")
	}
	assert.Error(t, stream.Err())
	_ = stream.Close()
}

func TestDeepgramConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	rec, err := NewDeepgramRecognizer(DeepgramConfig{APIKey: "k", URL: wsURL(server)}, nil)
	require.NoError(t, err)
	_, err = rec.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNewDeepgramRecognizerRequiresKey(t *testing.T) {
	_, err := NewDeepgramRecognizer(DeepgramConfig{}, nil)
	assert.Error(t, err)
}

func TestHTTPSynthesizer(t *testing.T) {
	var got ttsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tts/bytes", r.URL.Path)
		assert.Equal(t, "Bearer tts-key", r.Header.Get("Authorization"))
		assert.Equal(t, ttsAPIVersion, r.Header.Get("Cartesia-Version"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte{1, 0, 2, 0, 9})
	}))
	defer server.Close()

	synth, err := NewHTTPSynthesizer(SynthesizerConfig{APIKey: "tts-key", VoiceID: "voice-1", BaseURL: server.URL + "/"}, server.Client())
	require.NoError(t, err)

	pcm, err := synth.Synthesize(context.Background(), "  Olá  ")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0}, pcm)
	assert.Equal(t, "Olá", got.Transcript)
	assert.Equal(t, "voice-1", got.Voice.ID)
	assert.Equal(t, "raw", got.OutputFormat.Container)
	assert.Equal(t, "pcm_s16le", got.OutputFormat.Encoding)
	assert.Equal(t, 8000, got.OutputFormat.SampleRate)
	assert.Equal(t, "pt", got.Language)
}

func TestHTTPSynthesizerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Authorization"), "empty") {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	synth, err := NewHTTPSynthesizer(SynthesizerConfig{APIKey: "k", VoiceID: "v", BaseURL: server.URL}, server.Client())
	require.NoError(t, err)

	_, err = synth.Synthesize(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = synth.Synthesize(context.Background(), "oi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	empty, err := NewHTTPSynthesizer(SynthesizerConfig{APIKey: "empty", VoiceID: "v", BaseURL: server.URL}, server.Client())
	require.NoError(t, err)
	_, err = empty.Synthesize(context.Background(), "oi")
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = NewHTTPSynthesizer(SynthesizerConfig{APIKey: "k"}, nil)
	assert.Error(t, err)
}

func TestHTTPSynthesizerWithVoice(t *testing.T) {
	synth, err := NewHTTPSynthesizer(SynthesizerConfig{APIKey: "k", VoiceID: "base"}, nil)
	require.NoError(t, err)

	assert.Same(t, synth, synth.WithVoice(""))
	assert.Same(t, synth, synth.WithVoice("base"))

	other, ok := synth.WithVoice("other").(*HTTPSynthesizer)
	require.True(t, ok)
	assert.Equal(t, "other", other.cfg.VoiceID)
	assert.Equal(t, "base", synth.cfg.VoiceID)
}
