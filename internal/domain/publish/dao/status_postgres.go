package dao

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

// StatusPostgres implements StatusStore for PostgreSQL
type StatusPostgres struct {
	pool *pgxpool.Pool
}

// NewStatusPostgres creates a new PostgreSQL status store
func NewStatusPostgres(pool *pgxpool.Pool) *StatusPostgres {
	return &StatusPostgres{pool: pool}
}

// UpdatePostStatus upserts the post status row. The step-ordinal guard in
// the ON CONFLICT clause makes replayed or out-of-order writes no-ops.
func (r *StatusPostgres) UpdatePostStatus(ctx context.Context, postID string, status entity.PostStatus, stepOrd int, errMsg string, metadata entity.Metadata) error {
	encoded, err := entity.EncodeMetadata(metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO post_statuses (post_id, status, step_ord, error_message, metadata, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (post_id) DO UPDATE
		SET status = EXCLUDED.status,
		    step_ord = EXCLUDED.step_ord,
		    error_message = EXCLUDED.error_message,
		    metadata = COALESCE(EXCLUDED.metadata, post_statuses.metadata),
		    updated_at = EXCLUDED.updated_at
		WHERE post_statuses.step_ord <= EXCLUDED.step_ord
	`

	_, err = r.pool.Exec(ctx, query, postID, status, stepOrd, errMsg, encoded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating post status: %w", err)
	}
	return nil
}

// LogEvent appends an audit trail record
func (r *StatusPostgres) LogEvent(ctx context.Context, workflowKey, eventType string, data interface{}) error {
	var payload []byte
	if data != nil {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encoding event data: %w", err)
		}
	}

	query := `
		INSERT INTO workflow_events (workflow_key, event_type, data, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query, workflowKey, eventType, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting workflow event: %w", err)
	}
	return nil
}
