package entity

import (
	"errors"
	"time"
)

// Provider identifies the webhook source
type Provider string

const (
	ProviderTikTok Provider = "tiktok"
	ProviderMeta   Provider = "meta"
)

// Valid reports whether the provider is one we accept deliveries from
func (p Provider) Valid() bool {
	switch p {
	case ProviderTikTok, ProviderMeta:
		return true
	}
	return false
}

// Status represents the processing state of a webhook event
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Event represents a single webhook delivery.
// EventID is the provider-assigned delivery id used for dedup;
// PlatformID is the remote media/post id extracted from the payload.
type Event struct {
	ID            string
	Provider      Provider
	EventID       string
	EventType     string
	PlatformID    string
	Payload       []byte
	Status        Status
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	ReceivedAt    time.Time
	ProcessedAt   *time.Time
}

var (
	// ErrUnknownProvider indicates a delivery from an unsupported provider
	ErrUnknownProvider = errors.New("unknown webhook provider")
	// ErrEmptyEventID indicates a delivery with no provider event id
	ErrEmptyEventID = errors.New("webhook event id is empty")
	// ErrDuplicateEvent indicates the delivery was already recorded
	ErrDuplicateEvent = errors.New("webhook event already received")
)

// Validate checks the event fields required before persistence
func (e *Event) Validate() error {
	if !e.Provider.Valid() {
		return ErrUnknownProvider
	}
	if e.EventID == "" {
		return ErrEmptyEventID
	}
	return nil
}
