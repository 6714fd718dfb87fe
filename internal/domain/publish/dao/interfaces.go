package dao

import (
	"context"
	"time"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

// StatusStore is the single writer of durable post status and the audit
// trail. Writes are idempotent: last-write-wins keyed by monotonic step
// ordinal, never wall clock.
type StatusStore interface {
	// UpdatePostStatus persists a post status transition. Updates carrying
	// a lower step ordinal than the stored row are silently ignored.
	UpdatePostStatus(ctx context.Context, postID string, status entity.PostStatus, stepOrd int, errMsg string, metadata entity.Metadata) error

	// LogEvent appends an audit record for a workflow
	LogEvent(ctx context.Context, workflowKey, eventType string, data interface{}) error
}

// AttemptStore persists publish attempt records keyed by idempotency key.
// A record is written before the remote call is issued; on replay the stored
// successful result is returned instead of repeating the call.
type AttemptStore interface {
	// Begin records intent to publish. Calling it again for the same key is
	// a no-op.
	Begin(ctx context.Context, idempotencyKey, postID string) error

	// Succeeded marks the attempt successful with the remote identifiers
	Succeeded(ctx context.Context, idempotencyKey string, result *entity.PublishResult) error

	// GetSuccessful returns the stored result when the key already
	// completed a remote publish
	GetSuccessful(ctx context.Context, idempotencyKey string) (*entity.PublishResult, bool, error)
}

// RemotePost is the stored provider-id to post mapping entry
type RemotePost struct {
	PostID      string
	WorkflowKey string
}

// RemotePostStore maintains the provider-id to post-id mapping used by
// webhook correlation
type RemotePostStore interface {
	Map(ctx context.Context, platform entity.Platform, remoteID, postID, workflowKey string) error
	Resolve(ctx context.Context, platform entity.Platform, remoteID string) (RemotePost, bool, error)
}

// CheckpointStore persists workflow state checkpoints so runs survive
// process restarts and stuck runs are discoverable
type CheckpointStore interface {
	Save(ctx context.Context, state entity.WorkflowState) error
	ListStale(ctx context.Context, olderThan time.Time) ([]entity.WorkflowState, error)
	MarkFailed(ctx context.Context, key, errMsg string) error
}
