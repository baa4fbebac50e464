// Package campaign dials queued contacts under global and per-campaign
// concurrency ceilings.
package campaign

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a campaign.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// ContactStatus is the dialing state of one contact.
type ContactStatus string

const (
	ContactPending   ContactStatus = "pending"
	ContactCalling   ContactStatus = "calling"
	ContactCompleted ContactStatus = "completed"
	ContactFailed    ContactStatus = "failed"
)

var (
	ErrCampaignNotFound  = errors.New("campaign: not found")
	ErrInvalidTransition = errors.New("campaign: invalid status transition")
	ErrUnknownStatus     = errors.New("campaign: unknown status")
	ErrAlreadyRunning    = errors.New("campaign: already running")
	ErrNotRunning        = errors.New("campaign: not running")
	ErrNoContacts        = errors.New("campaign: no valid contacts")
)

// ParseStatus decodes a persisted campaign status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// ParseContactStatus decodes a persisted contact status.
func ParseContactStatus(s string) (ContactStatus, error) {
	switch st := ContactStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case ContactPending, ContactCalling, ContactCompleted, ContactFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// Campaign is a batch of contacts dialed with one prompt.
type Campaign struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	PromptID          *int64     `json:"prompt_id,omitempty"`
	Status            Status     `json:"status"`
	MaxConcurrent     int        `json:"max_concurrent"`
	TotalContacts     int        `json:"total_contacts"`
	CompletedContacts int        `json:"completed_contacts"`
	FailedContacts    int        `json:"failed_contacts"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Contact is one queued destination.
type Contact struct {
	ID            int64             `json:"id"`
	CampaignID    int64             `json:"campaign_id"`
	PhoneNumber   string            `json:"phone_number"`
	Name          string            `json:"name,omitempty"`
	ExtraData     map[string]string `json:"extra_data,omitempty"`
	Status        ContactStatus     `json:"status"`
	CallID        string            `json:"call_id,omitempty"`
	Attempts      int               `json:"attempts"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
}

// Stats counts contacts by status.
type Stats struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Calling     int     `json:"calling"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

func (s *Stats) add(status ContactStatus, n int) {
	s.Total += n
	switch status {
	case ContactPending:
		s.Pending += n
	case ContactCalling:
		s.Calling += n
	case ContactCompleted:
		s.Completed += n
	case ContactFailed:
		s.Failed += n
	}
}

func (s *Stats) finish() {
	if s.Total > 0 {
		s.SuccessRate = float64(s.Completed) / float64(s.Total) * 100
	}
}
