package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

// AttemptPostgres implements AttemptStore for PostgreSQL
type AttemptPostgres struct {
	pool *pgxpool.Pool
}

// NewAttemptPostgres creates a new PostgreSQL attempt store
func NewAttemptPostgres(pool *pgxpool.Pool) *AttemptPostgres {
	return &AttemptPostgres{pool: pool}
}

// Begin records intent before a remote publish call
func (r *AttemptPostgres) Begin(ctx context.Context, idempotencyKey, postID string) error {
	query := `
		INSERT INTO publish_attempts (idempotency_key, post_id, status, created_at, updated_at)
		VALUES ($1, $2, 'started', $3, $3)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query, idempotencyKey, postID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting publish attempt: %w", err)
	}
	return nil
}

// Succeeded marks the attempt completed with the remote identifiers
func (r *AttemptPostgres) Succeeded(ctx context.Context, idempotencyKey string, result *entity.PublishResult) error {
	query := `
		UPDATE publish_attempts
		SET status = 'succeeded', remote_id = $2, remote_url = NULLIF($3, ''),
		    container_ref = NULLIF($4, ''), published_at = $5, updated_at = $6
		WHERE idempotency_key = $1
	`

	_, err := r.pool.Exec(ctx, query,
		idempotencyKey,
		result.RemoteID,
		result.RemoteURL,
		result.ContainerRef,
		result.PublishedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("marking publish attempt succeeded: %w", err)
	}
	return nil
}

// GetSuccessful returns a previously completed attempt for the key
func (r *AttemptPostgres) GetSuccessful(ctx context.Context, idempotencyKey string) (*entity.PublishResult, bool, error) {
	query := `
		SELECT remote_id, remote_url, container_ref, published_at
		FROM publish_attempts
		WHERE idempotency_key = $1 AND status = 'succeeded'
	`

	row := r.pool.QueryRow(ctx, query, idempotencyKey)

	var result entity.PublishResult
	var remoteURL, containerRef *string

	err := row.Scan(&result.RemoteID, &remoteURL, &containerRef, &result.PublishedAt)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scanning publish attempt: %w", err)
	}

	if remoteURL != nil {
		result.RemoteURL = *remoteURL
	}
	if containerRef != nil {
		result.ContainerRef = *containerRef
	}
	return &result, true, nil
}
