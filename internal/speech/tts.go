package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	ttsAPIVersion   = "2025-04-16"
	maxTTSAudioSize = 16 << 20
)

// SynthesizerConfig configures the HTTP text-to-speech client.
type SynthesizerConfig struct {
	APIKey     string
	BaseURL    string
	VoiceID    string
	ModelID    string
	Language   string
	SampleRate int
	Timeout    time.Duration
}

// HTTPSynthesizer calls a Cartesia-compatible /tts/bytes endpoint and
// returns raw pcm_s16le audio.
type HTTPSynthesizer struct {
	cfg    SynthesizerConfig
	client *http.Client
}

// NewHTTPSynthesizer validates cfg and fills defaults.
func NewHTTPSynthesizer(cfg SynthesizerConfig, client *http.Client) (*HTTPSynthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("speech: tts api key is required")
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		return nil, errors.New("speech: tts voice id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cartesia.ai"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ModelID == "" {
		cfg.ModelID = "sonic-2"
	}
	if cfg.Language == "" {
		cfg.Language = "pt"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPSynthesizer{cfg: cfg, client: client}, nil
}

// WithVoice returns a synthesizer speaking with voiceID instead of the
// configured voice.
func (s *HTTPSynthesizer) WithVoice(voiceID string) Synthesizer {
	if voiceID == "" || voiceID == s.cfg.VoiceID {
		return s
	}
	cfg := s.cfg
	cfg.VoiceID = voiceID
	return &HTTPSynthesizer{cfg: cfg, client: s.client}
}

type ttsVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type ttsOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type ttsRequest struct {
	ModelID      string          `json:"model_id"`
	Transcript   string          `json:"transcript"`
	Voice        ttsVoice        `json:"voice"`
	OutputFormat ttsOutputFormat `json:"output_format"`
	Language     string          `json:"language,omitempty"`
}

// Synthesize returns PCM for text. An odd trailing byte is dropped so the
// result is always whole 16-bit samples.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	body, err := json.Marshal(ttsRequest{
		ModelID:    s.cfg.ModelID,
		Transcript: text,
		Voice:      ttsVoice{Mode: "id", ID: s.cfg.VoiceID},
		OutputFormat: ttsOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: s.cfg.SampleRate,
		},
		Language: s.cfg.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("speech: marshal tts request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: build tts request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Cartesia-Version", ttsAPIVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speech: tts status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxTTSAudioSize))
	if err != nil {
		return nil, fmt.Errorf("speech: read tts audio: %w", err)
	}
	if len(audio)%2 == 1 {
		audio = audio[:len(audio)-1]
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}
