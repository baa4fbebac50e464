package archive

import "time"

const recordVersion = "1.0"

// CallRecord is the transcript document archived to S3 when a call ends.
type CallRecord struct {
	Version         string    `json:"version"`
	CallID          string    `json:"call_id"`
	ChannelID       string    `json:"channel_id"`
	Direction       string    `json:"direction"`
	PhoneHash       string    `json:"phone_hash,omitempty"`
	PromptID        int64     `json:"prompt_id,omitempty"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	ArchivedAt      time.Time `json:"archived_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	MessageCount    int       `json:"message_count"`
	Messages        []Message `json:"messages"`
}

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	CallID       string `json:"call_id"`
	S3Key        string `json:"s3_key"`
	Direction    string `json:"direction"`
	Status       string `json:"status"`
	ArchivedAt   string `json:"archived_at"`
	MessageCount int    `json:"message_count"`
}
