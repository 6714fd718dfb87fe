package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

// RemotePostPostgres implements RemotePostStore for PostgreSQL
type RemotePostPostgres struct {
	pool *pgxpool.Pool
}

// NewRemotePostPostgres creates a new PostgreSQL remote post mapping store
func NewRemotePostPostgres(pool *pgxpool.Pool) *RemotePostPostgres {
	return &RemotePostPostgres{pool: pool}
}

// Map records the provider-id to post-id mapping
func (r *RemotePostPostgres) Map(ctx context.Context, platform entity.Platform, remoteID, postID, workflowKey string) error {
	query := `
		INSERT INTO remote_posts (platform, remote_id, post_id, workflow_key, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (platform, remote_id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query, platform, remoteID, postID, workflowKey, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting remote post mapping: %w", err)
	}
	return nil
}

// Resolve returns the internal post mapping for a provider media ID
func (r *RemotePostPostgres) Resolve(ctx context.Context, platform entity.Platform, remoteID string) (RemotePost, bool, error) {
	query := `SELECT post_id, workflow_key FROM remote_posts WHERE platform = $1 AND remote_id = $2`

	var rp RemotePost
	err := r.pool.QueryRow(ctx, query, platform, remoteID).Scan(&rp.PostID, &rp.WorkflowKey)
	if err == pgx.ErrNoRows {
		return RemotePost{}, false, nil
	}
	if err != nil {
		return RemotePost{}, false, fmt.Errorf("resolving remote post: %w", err)
	}
	return rp, true, nil
}
