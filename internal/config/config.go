package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port             string
	Env              string
	LogLevel         string
	PublicWSBaseURL  string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	AdminJWTSecret   string
	ShutdownTimeout  time.Duration
	PendingCallTTL   time.Duration
	FirstMsgTimeout  time.Duration
	FillerPlayback   time.Duration
	PlaybackPad      time.Duration
	AudioDirApp      string
	AudioDirSwitch   string
	DefaultCountry   string
	MaxConcurrent    int
	LLMHistoryTurns  int
	EventsQueueURL   string
	ArchiveBucket    string
	WebhookTimeout   time.Duration
	SchedulerEvery   time.Duration
	SchedulerWindow  time.Duration
	GreetingText     string
	ApologyText      string
	DefaultSystemMsg string

	// Switch control port
	ESLHost           string
	ESLPort           int
	ESLPassword       string
	ESLConnectTimeout time.Duration
	ESLReadTimeout    time.Duration
	SIPGateway        string
	SIPTechPrefix     string

	// Campaign engine
	CampaignDefaultMaxConcurrent int
	CampaignPollDelay            time.Duration
	CampaignBackoff              time.Duration
	CallWatchInterval            time.Duration
	CallWatchMax                 time.Duration

	// Speech-to-text (Deepgram streaming)
	DeepgramAPIKey   string
	DeepgramURL      string
	DeepgramModel    string
	DeepgramLanguage string

	// Text-to-speech
	TTSAPIKey   string
	TTSBaseURL  string
	TTSVoiceID  string
	TTSModelID  string
	TTSLanguage string
	TTSTimeout  time.Duration

	// Language model
	LLMProvider         string
	LLMFallbackProvider string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModelID       string
	LLMMaxTokens        int
	LLMTemperature      float64
	LLMTimeout          time.Duration

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8000"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		PublicWSBaseURL:  strings.TrimRight(getEnv("PUBLIC_WS_BASE_URL", "ws://127.0.0.1:8000/ws"), "/"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		AdminJWTSecret:   getEnv("ADMIN_JWT_SECRET", ""),
		ShutdownTimeout:  getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		PendingCallTTL:   getEnvAsDuration("PENDING_CALL_TTL", 2*time.Minute),
		FirstMsgTimeout:  getEnvAsDuration("FIRST_MESSAGE_TIMEOUT", 10*time.Second),
		FillerPlayback:   getEnvAsDuration("FILLER_PLAYBACK", 2*time.Second),
		PlaybackPad:      getEnvAsDuration("PLAYBACK_PAD", time.Second),
		AudioDirApp:      getEnv("AUDIO_DIR_APP", "/audio"),
		AudioDirSwitch:   getEnv("AUDIO_DIR_SWITCH", "/var/lib/freeswitch/sounds/custom"),
		DefaultCountry:   getEnv("DEFAULT_COUNTRY_CODE", "55"),
		MaxConcurrent:    getEnvAsInt("MAX_CONCURRENT_CALLS", 15),
		LLMHistoryTurns:  getEnvAsInt("LLM_HISTORY_TURNS", 10),
		EventsQueueURL:   getEnv("EVENTS_QUEUE_URL", ""),
		ArchiveBucket:    getEnv("TRANSCRIPT_ARCHIVE_BUCKET", ""),
		WebhookTimeout:   getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		SchedulerEvery:   getEnvAsDuration("SCHEDULER_INTERVAL", 10*time.Second),
		SchedulerWindow:  getEnvAsDuration("SCHEDULER_LOOKAHEAD", time.Minute),
		GreetingText:     getEnv("GREETING_TEXT", "Olá! Bem-vindo ao atendimento. Como posso ajudar você hoje?"),
		ApologyText:      getEnv("APOLOGY_TEXT", "Desculpe, tive um problema. Pode repetir?"),
		DefaultSystemMsg: getEnv("DEFAULT_SYSTEM_PROMPT", ""),

		ESLHost:           getEnv("ESL_HOST", "127.0.0.1"),
		ESLPort:           getEnvAsInt("ESL_PORT", 8021),
		ESLPassword:       getEnv("ESL_PASSWORD", "ClueCon"),
		ESLConnectTimeout: getEnvAsDuration("ESL_CONNECT_TIMEOUT", 5*time.Second),
		ESLReadTimeout:    getEnvAsDuration("ESL_READ_TIMEOUT", 10*time.Second),
		SIPGateway:        getEnv("SIP_GATEWAY", "ligai-trunk"),
		SIPTechPrefix:     getEnv("SIP_TECH_PREFIX", "1290#"),

		CampaignDefaultMaxConcurrent: getEnvAsInt("CAMPAIGN_DEFAULT_MAX_CONCURRENT", 5),
		CampaignPollDelay:            getEnvAsDuration("CAMPAIGN_POLL_DELAY", time.Second),
		CampaignBackoff:              getEnvAsDuration("CAMPAIGN_BACKOFF", 5*time.Second),
		CallWatchInterval:            getEnvAsDuration("CALL_WATCH_INTERVAL", 5*time.Second),
		CallWatchMax:                 getEnvAsDuration("CALL_WATCH_MAX", time.Hour),

		DeepgramAPIKey:   getEnv("DEEPGRAM_API_KEY", ""),
		DeepgramURL:      getEnv("DEEPGRAM_URL", "wss://api.deepgram.com/v1/listen"),
		DeepgramModel:    getEnv("DEEPGRAM_MODEL", "nova-2"),
		DeepgramLanguage: getEnv("DEEPGRAM_LANGUAGE", "pt-BR"),

		TTSAPIKey:   getEnv("TTS_API_KEY", ""),
		TTSBaseURL:  strings.TrimRight(getEnv("TTS_BASE_URL", "https://api.cartesia.ai"), "/"),
		TTSVoiceID:  getEnv("TTS_VOICE_ID", "pt-BR-isadora"),
		TTSModelID:  getEnv("TTS_MODEL_ID", "sonic-multilingual"),
		TTSLanguage: getEnv("TTS_LANGUAGE", "pt"),
		TTSTimeout:  getEnvAsDuration("TTS_TIMEOUT", 30*time.Second),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		LLMMaxTokens:        getEnvAsInt("LLM_MAX_TOKENS", 500),
		LLMTemperature:      getEnvAsFloat("LLM_TEMPERATURE", 0.7),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 20*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// ESLAddr returns host:port of the switch control port.
func (c *Config) ESLAddr() string {
	return fmt.Sprintf("%s:%d", c.ESLHost, c.ESLPort)
}

// MissingCredentials lists the provider settings a live call cannot run without.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if strings.TrimSpace(c.DeepgramAPIKey) == "" {
		missing = append(missing, "DEEPGRAM_API_KEY")
	}
	if strings.TrimSpace(c.TTSAPIKey) == "" {
		missing = append(missing, "TTS_API_KEY")
	}
	switch c.LLMProvider {
	case "gemini":
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	default:
		if strings.TrimSpace(c.BedrockModelID) == "" {
			missing = append(missing, "BEDROCK_MODEL_ID")
		}
	}
	return missing
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
