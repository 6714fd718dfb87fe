package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

const defaultReservationTTL = time.Hour

// Reservation represents one unit of reserved publish capacity. It is
// consumed by Commit on a successful publish or released by Rollback; an
// abandoned reservation self-expires after its TTL.
type Reservation struct {
	ID         string
	AccountID  string
	Platform   entity.Platform
	Cost       int
	ReservedAt time.Time
	Expiry     time.Time
}

// reserveScript performs the admission check and the reservation write as a
// single atomic step. Usage counts committed publishes only; active
// reservations gate admission so two concurrent reserves for the same
// account+platform can never jointly exceed a window.
//
// KEYS[1] usage zset, KEYS[2] reservation zset
// ARGV: now_ms, cost, reservation_id, expiry_ms, max_window_ms,
//       then (window_ms, limit, retry_after_s) per window
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local cost = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now)
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - tonumber(ARGV[5]))
local pending = redis.call('ZCARD', KEYS[2])
local i = 6
while ARGV[i] do
  local win = tonumber(ARGV[i])
  local limit = tonumber(ARGV[i+1])
  local used = redis.call('ZCOUNT', KEYS[1], now - win + 1, '+inf')
  if used + pending + cost > limit then
    return {0, tonumber(ARGV[i+2]), (i-6)/3}
  end
  i = i + 3
end
redis.call('ZADD', KEYS[2], tonumber(ARGV[4]), ARGV[3])
return {1, 0, 0}
`)

// Ledger tracks and reserves per-account-per-platform publish capacity on
// Redis sliding windows
type Ledger struct {
	rdb    redis.UniversalClient
	policy Policy
	ttl    time.Duration
	logger *slog.Logger

	now func() time.Time
}

// Option configures the ledger
type Option func(*Ledger)

// WithReservationTTL overrides the reservation self-expiry window
func WithReservationTTL(ttl time.Duration) Option {
	return func(l *Ledger) { l.ttl = ttl }
}

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a rate budget ledger over the given Redis client
func NewLedger(rdb redis.UniversalClient, policy Policy, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		rdb:    rdb,
		policy: policy,
		ttl:    defaultReservationTTL,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func usageKey(platform entity.Platform, accountID string) string {
	return fmt.Sprintf("rate:pub:%s:%s", platform, accountID)
}

func reservationKey(platform entity.Platform, accountID string) string {
	return fmt.Sprintf("rate:resv:%s:%s", platform, accountID)
}

func detailKey(id string) string {
	return "rate:resv:detail:" + id
}

// Reserve attempts to reserve capacity. On exhaustion it returns a
// *entity.RateLimitError carrying the retry-after hint of the tightest
// violated window.
func (l *Ledger) Reserve(ctx context.Context, accountID string, platform entity.Platform, cost int) (*Reservation, error) {
	windows, ok := l.policy[platform]
	if !ok {
		return nil, fmt.Errorf("no rate policy configured for platform %s", platform)
	}
	if cost < 1 {
		cost = 1
	}

	now := l.now()
	id := uuid.New().String()
	expiry := now.Add(l.ttl)

	args := make([]interface{}, 0, 5+3*len(windows))
	args = append(args,
		now.UnixMilli(),
		cost,
		id,
		expiry.UnixMilli(),
		l.policy.maxWindow(platform).Milliseconds(),
	)
	for _, w := range windows {
		args = append(args, w.Per.Milliseconds(), w.Limit, int(w.Per.Seconds()))
	}

	keys := []string{usageKey(platform, accountID), reservationKey(platform, accountID)}
	raw, err := reserveScript.Run(ctx, l.rdb, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("running reserve script: %w", err)
	}
	ok, retryAfter, windowIdx := decodeReserveReply(raw)
	if !ok {
		w := windows[windowIdx]
		l.logger.Info("rate budget exhausted",
			"platform", platform, "account_id", accountID, "window", w.Name)
		return nil, &entity.RateLimitError{
			Platform:   platform,
			AccountID:  accountID,
			Window:     w.Name,
			RetryAfter: time.Duration(retryAfter) * time.Second,
		}
	}

	// Detail record for rollback/commit lookup. Written outside the script;
	// the zset entry above is the authoritative admission record.
	detail := map[string]interface{}{
		"account_id": accountID,
		"platform":   string(platform),
		"cost":       cost,
	}
	if err := l.rdb.HSet(ctx, detailKey(id), detail).Err(); err != nil {
		return nil, fmt.Errorf("writing reservation detail: %w", err)
	}
	// Detail outlives the reservation so a late rollback/commit can still
	// resolve its keys.
	if err := l.rdb.Expire(ctx, detailKey(id), 2*l.ttl).Err(); err != nil {
		return nil, fmt.Errorf("setting reservation detail expiry: %w", err)
	}

	return &Reservation{
		ID:         id,
		AccountID:  accountID,
		Platform:   platform,
		Cost:       cost,
		ReservedAt: now,
		Expiry:     expiry,
	}, nil
}

// Rollback releases a reservation. Rolling back an unknown, expired or
// already-released reservation is a no-op, never an error.
func (l *Ledger) Rollback(ctx context.Context, reservationID string) error {
	detail, err := l.rdb.HGetAll(ctx, detailKey(reservationID)).Result()
	if err != nil {
		return fmt.Errorf("loading reservation detail: %w", err)
	}
	if len(detail) == 0 {
		return nil
	}
	platform := entity.Platform(detail["platform"])
	accountID := detail["account_id"]

	pipe := l.rdb.TxPipeline()
	pipe.ZRem(ctx, reservationKey(platform, accountID), reservationID)
	pipe.Del(ctx, detailKey(reservationID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("releasing reservation: %w", err)
	}
	return nil
}

// Commit converts a reservation into committed usage after a successful
// publish. Committing the same reservation twice records usage once (zset
// member identity).
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	detail, err := l.rdb.HGetAll(ctx, detailKey(reservationID)).Result()
	if err != nil {
		return fmt.Errorf("loading reservation detail: %w", err)
	}
	if len(detail) == 0 {
		return fmt.Errorf("reservation %s not found or expired", reservationID)
	}
	platform := entity.Platform(detail["platform"])
	accountID := detail["account_id"]

	pipe := l.rdb.TxPipeline()
	pipe.ZRem(ctx, reservationKey(platform, accountID), reservationID)
	pipe.ZAdd(ctx, usageKey(platform, accountID), redis.Z{
		Score:  float64(l.now().UnixMilli()),
		Member: reservationID,
	})
	pipe.Del(ctx, detailKey(reservationID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("committing reservation: %w", err)
	}
	return nil
}

// RecordPublish records committed usage directly, bypassing a reservation.
// Used when backfilling usage observed out of band (e.g. a publish confirmed
// only by webhook after a crash).
func (l *Ledger) RecordPublish(ctx context.Context, accountID string, platform entity.Platform, at time.Time) error {
	err := l.rdb.ZAdd(ctx, usageKey(platform, accountID), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: uuid.New().String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("recording publish: %w", err)
	}
	return nil
}

func decodeReserveReply(raw []interface{}) (ok bool, retryAfter int64, windowIdx int64) {
	if len(raw) != 3 {
		return false, 0, 0
	}
	return asInt64(raw[0]) == 1, asInt64(raw[1]), asInt64(raw[2])
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
