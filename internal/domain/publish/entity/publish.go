package entity

import (
	"fmt"
	"time"
)

// Platform identifies the destination social network
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformX         Platform = "x"
	PlatformReddit    Platform = "reddit"
)

// Platforms lists every supported platform
var Platforms = []Platform{PlatformInstagram, PlatformTikTok, PlatformX, PlatformReddit}

// Valid reports whether the platform is one of the supported variants
func (p Platform) Valid() bool {
	switch p {
	case PlatformInstagram, PlatformTikTok, PlatformX, PlatformReddit:
		return true
	default:
		return false
	}
}

// MediaKind represents the kind of media referenced by a publish request
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// Location represents an optional geotag attached to a post
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	PlaceID string  `json:"place_id,omitempty"`
}

// PublishRequest represents one logical request to publish a post on a platform
type PublishRequest struct {
	Platform       Platform   `json:"platform"`
	AccountID      string     `json:"account_id"`
	TokenID        string     `json:"token_id"`
	MediaRef       string     `json:"media_ref,omitempty"`
	Caption        string     `json:"caption"`
	Hashtags       []string   `json:"hashtags,omitempty"`
	Mentions       []string   `json:"mentions,omitempty"`
	Location       *Location  `json:"location,omitempty"`
	ScheduleAt     *time.Time `json:"schedule_at,omitempty"`
	PostID         string     `json:"post_id"`
	CreatorID      string     `json:"creator_id"`
	IdempotencyKey string     `json:"idempotency_key"`
}

// Key returns the unit-of-work key. Two requests with the same key attach to
// the same in-flight workflow instead of duplicating it.
func (r *PublishRequest) Key() string {
	return fmt.Sprintf("%s:%s:%s", r.Platform, r.AccountID, r.PostID)
}

// Validate checks structural requirements before any workflow is started
func (r *PublishRequest) Validate() error {
	if !r.Platform.Valid() {
		return ErrUnknownPlatform
	}
	if r.AccountID == "" {
		return ErrEmptyAccountID
	}
	if r.TokenID == "" {
		return ErrEmptyTokenID
	}
	if r.PostID == "" {
		return ErrEmptyPostID
	}
	if r.IdempotencyKey == "" {
		return ErrEmptyIdempotencyKey
	}
	return nil
}

// PublishResult represents the remote identifiers returned by a platform
// after a successful publish
type PublishResult struct {
	RemoteID     string    `json:"remote_id"`
	RemoteURL    string    `json:"remote_url,omitempty"`
	ContainerRef string    `json:"container_ref,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
}

// AckMetrics represents the confirmation payload resolved by ack
// reconciliation. Timeout marks placeholder metrics produced when neither a
// webhook nor polling returned before the ack window closed.
type AckMetrics struct {
	Views    int64     `json:"views"`
	Likes    int64     `json:"likes"`
	Comments int64     `json:"comments"`
	Source   string    `json:"source"` // "webhook" or "poll"
	Timeout  bool      `json:"timeout"`
	FetchedAt time.Time `json:"fetched_at"`
}
