package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

// CheckpointPostgres implements CheckpointStore for PostgreSQL
type CheckpointPostgres struct {
	pool *pgxpool.Pool
}

// NewCheckpointPostgres creates a new PostgreSQL checkpoint store
func NewCheckpointPostgres(pool *pgxpool.Pool) *CheckpointPostgres {
	return &CheckpointPostgres{pool: pool}
}

// Save upserts the workflow state checkpoint. Terminal checkpoints cannot be
// displaced by a stale replayed write.
func (r *CheckpointPostgres) Save(ctx context.Context, state entity.WorkflowState) error {
	query := `
		INSERT INTO workflow_states
			(key, step, step_ord, retry_count, error_message, reservation_id,
			 remote_id, remote_url, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11)
		ON CONFLICT (key) DO UPDATE
		SET step = EXCLUDED.step,
		    step_ord = EXCLUDED.step_ord,
		    retry_count = EXCLUDED.retry_count,
		    error_message = EXCLUDED.error_message,
		    reservation_id = EXCLUDED.reservation_id,
		    remote_id = COALESCE(EXCLUDED.remote_id, workflow_states.remote_id),
		    remote_url = COALESCE(EXCLUDED.remote_url, workflow_states.remote_url),
		    completed_at = EXCLUDED.completed_at,
		    updated_at = EXCLUDED.updated_at
		WHERE workflow_states.step_ord <= EXCLUDED.step_ord
	`

	_, err := r.pool.Exec(ctx, query,
		state.Key,
		state.Step,
		state.Step.Ordinal(),
		state.RetryCount,
		state.Error,
		state.ReservationID,
		state.RemoteID,
		state.RemoteURL,
		state.StartedAt,
		state.CompletedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving workflow checkpoint: %w", err)
	}
	return nil
}

// ListStale returns non-terminal workflows whose last checkpoint is older
// than the cutoff
func (r *CheckpointPostgres) ListStale(ctx context.Context, olderThan time.Time) ([]entity.WorkflowState, error) {
	query := `
		SELECT key, step, retry_count, error_message, reservation_id,
		       remote_id, remote_url, started_at, completed_at
		FROM workflow_states
		WHERE step NOT IN ('completed', 'failed', 'cancelled') AND updated_at < $1
	`

	rows, err := r.pool.Query(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("listing stale workflows: %w", err)
	}
	defer rows.Close()

	var states []entity.WorkflowState
	for rows.Next() {
		var st entity.WorkflowState
		var errMsg, reservationID, remoteID, remoteURL *string

		if err := rows.Scan(&st.Key, &st.Step, &st.RetryCount, &errMsg,
			&reservationID, &remoteID, &remoteURL, &st.StartedAt, &st.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning workflow state: %w", err)
		}
		if errMsg != nil {
			st.Error = *errMsg
		}
		if reservationID != nil {
			st.ReservationID = *reservationID
		}
		if remoteID != nil {
			st.RemoteID = *remoteID
		}
		if remoteURL != nil {
			st.RemoteURL = *remoteURL
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// MarkFailed force-fails a stuck workflow row
func (r *CheckpointPostgres) MarkFailed(ctx context.Context, key, errMsg string) error {
	query := `
		UPDATE workflow_states
		SET step = 'failed', step_ord = $3, error_message = $2, completed_at = $4, updated_at = $4
		WHERE key = $1 AND step NOT IN ('completed', 'failed', 'cancelled')
	`

	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, query, key, errMsg, entity.StepFailed.Ordinal(), now)
	if err != nil {
		return fmt.Errorf("marking workflow failed: %w", err)
	}
	return nil
}
