package entity

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Metadata is the sealed union of payload shapes that may be merged into a
// post status update. Each shape is validated at the boundary before the
// merge so stores never receive free-form blobs.
type Metadata interface {
	Kind() string
	Validate() error
}

// PublishSuccessMetadata carries remote identifiers recorded when a post
// goes live
type PublishSuccessMetadata struct {
	RemoteID     string `json:"remote_id"`
	RemoteURL    string `json:"remote_url,omitempty"`
	ContainerRef string `json:"container_ref,omitempty"`
}

func (m PublishSuccessMetadata) Kind() string { return "publish_success" }

func (m PublishSuccessMetadata) Validate() error {
	if m.RemoteID == "" {
		return errors.New("publish success metadata requires remote_id")
	}
	return nil
}

// ModerationMetadata carries a platform moderation decision delivered by
// webhook
type ModerationMetadata struct {
	Decision string `json:"decision"` // approved, rejected, restricted
	Reason   string `json:"reason,omitempty"`
}

func (m ModerationMetadata) Kind() string { return "moderation" }

func (m ModerationMetadata) Validate() error {
	switch m.Decision {
	case "approved", "rejected", "restricted":
		return nil
	default:
		return fmt.Errorf("unknown moderation decision %q", m.Decision)
	}
}

// ErrorMetadata carries the structured reason persisted with terminal
// failures
type ErrorMetadata struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (m ErrorMetadata) Kind() string { return "error" }

func (m ErrorMetadata) Validate() error {
	if m.Reason == "" {
		return errors.New("error metadata requires a reason code")
	}
	return nil
}

// EncodeMetadata validates a metadata payload and returns its JSON envelope
// ({"kind": ..., "data": ...}) for storage
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s metadata: %w", m.Kind(), err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s metadata: %w", m.Kind(), err)
	}
	return json.Marshal(struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	}{Kind: m.Kind(), Data: data})
}
