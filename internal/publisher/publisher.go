// Package publisher defines the platform-neutral publishing contract and the
// registry the coordinator selects variants from. Adding a platform means
// registering an implementation; coordinator logic never branches on the
// platform itself.
package publisher

import (
	"context"
	"fmt"
	"sync"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

// Credentials carries the platform access material resolved for an account
type Credentials struct {
	AccessToken string
	UserID      string
}

// Input represents one publish call against a platform API
type Input struct {
	AccountID   string
	Credentials Credentials
	MediaRef    string
	MediaKind   entity.MediaKind
	Caption     string
	Hashtags    []string
	Mentions    []string
	Location    *entity.Location
	// IdempotencyKey is forwarded to platforms whose publish endpoint
	// accepts a client-supplied token, so at-least-once calls deduplicate
	// remotely where the API allows it.
	IdempotencyKey string
}

// Publisher performs the remote publish call for one platform variant.
// Implementations classify failures into the entity error taxonomy.
type Publisher interface {
	Platform() entity.Platform
	Publish(ctx context.Context, in Input) (*entity.PublishResult, error)
	// FetchMetrics is the polling fallback for ack reconciliation
	FetchMetrics(ctx context.Context, remoteID string, creds Credentials) (*entity.AckMetrics, error)
}

// Registry maps platforms to their publisher implementations
type Registry struct {
	mu   sync.RWMutex
	pubs map[entity.Platform]Publisher
}

// NewRegistry creates an empty publisher registry
func NewRegistry() *Registry {
	return &Registry{pubs: make(map[entity.Platform]Publisher)}
}

// Register adds a publisher for its platform, replacing any previous entry
func (r *Registry) Register(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pubs[p.Platform()] = p
}

// Get returns the publisher for a platform
func (r *Registry) Get(platform entity.Platform) (Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pubs[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrPublisherNotFound, platform)
	}
	return p, nil
}

// ClassifyStatus maps an upstream HTTP status to the error taxonomy.
// 401/403 are terminal auth failures, 422 is a platform content rejection,
// everything else (429, 5xx, timeouts) is transient and retryable.
func ClassifyStatus(platform entity.Platform, status int, msg string) error {
	switch {
	case status == 401 || status == 403:
		return &entity.AuthenticationError{Platform: platform, Reason: msg}
	case status == 422:
		return &entity.ContentPolicyError{Platform: platform, Reason: msg}
	default:
		return &entity.TransientPublishError{Platform: platform, Status: status, Reason: msg}
	}
}
