package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sevendev/crosspost/internal/domain/webhook/entity"
)

// EventRepository defines the interface for webhook event storage
type EventRepository interface {
	// Insert records a delivery; returns entity.ErrDuplicateEvent when the
	// provider event id was already seen
	Insert(ctx context.Context, event *entity.Event) error
	// UpdateStatus transitions an event and records the attempt outcome
	UpdateStatus(ctx context.Context, id string, status entity.Status, attempts int, lastError string, nextAttemptAt *time.Time) error
	// ListDue returns events whose retry time has passed
	ListDue(ctx context.Context, now time.Time, limit int) ([]entity.Event, error)
}

// EventPostgres implements EventRepository for PostgreSQL
type EventPostgres struct {
	pool *pgxpool.Pool
}

// NewEventPostgres creates a new PostgreSQL webhook event repository
func NewEventPostgres(pool *pgxpool.Pool) *EventPostgres {
	return &EventPostgres{pool: pool}
}

// Insert records a delivery, deduplicating on (provider, event_id)
func (r *EventPostgres) Insert(ctx context.Context, event *entity.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = entity.StatusReceived
	}

	query := `
		INSERT INTO webhook_events (id, provider, event_id, event_type, platform_id, payload, status, attempts, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider, event_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		event.ID, event.Provider, event.EventID, event.EventType,
		event.PlatformID, event.Payload, event.Status, event.Attempts, event.ReceivedAt)
	if err != nil {
		return fmt.Errorf("inserting webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrDuplicateEvent
	}
	return nil
}

// UpdateStatus transitions an event and records the attempt outcome
func (r *EventPostgres) UpdateStatus(ctx context.Context, id string, status entity.Status, attempts int, lastError string, nextAttemptAt *time.Time) error {
	query := `
		UPDATE webhook_events
		SET status = $2,
		    attempts = $3,
		    last_error = NULLIF($4, ''),
		    next_attempt_at = $5,
		    processed_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE processed_at END
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, status, attempts, lastError, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("updating webhook event status: %w", err)
	}
	return nil
}

// ListDue returns events whose retry time has passed
func (r *EventPostgres) ListDue(ctx context.Context, now time.Time, limit int) ([]entity.Event, error) {
	query := `
		SELECT id, provider, event_id, event_type, platform_id, payload, status, attempts,
		       COALESCE(last_error, ''), next_attempt_at, received_at, processed_at
		FROM webhook_events
		WHERE status = 'processing' AND next_attempt_at IS NOT NULL AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("listing due webhook events: %w", err)
	}
	defer rows.Close()

	var events []entity.Event
	for rows.Next() {
		var e entity.Event
		if err := rows.Scan(&e.ID, &e.Provider, &e.EventID, &e.EventType, &e.PlatformID,
			&e.Payload, &e.Status, &e.Attempts, &e.LastError,
			&e.NextAttemptAt, &e.ReceivedAt, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scanning webhook event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
