package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return clock })}, opts...)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLedger(client, DefaultPolicy(), logger, opts...), &clock
}

func TestReserveWithinBudget(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	resv, err := ledger.Reserve(ctx, "acc-1", entity.PlatformInstagram, 1)
	require.NoError(t, err)
	require.NotEmpty(t, resv.ID)
	require.Equal(t, entity.PlatformInstagram, resv.Platform)
	require.Equal(t, 1, resv.Cost)
}

func TestTikTokMinuteWindowExhausted(t *testing.T) {
	ledger, clock := newTestLedger(t)
	ctx := context.Background()

	// Six publishes already recorded inside the rolling 60 seconds.
	for i := 0; i < 6; i++ {
		require.NoError(t, ledger.RecordPublish(ctx, "acc-1", entity.PlatformTikTok, clock.Add(-10*time.Second)))
	}

	_, err := ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
	require.Error(t, err)

	var rateErr *entity.RateLimitError
	require.True(t, errors.As(err, &rateErr))
	require.Equal(t, "minute", rateErr.Window)
	require.Equal(t, 60*time.Second, rateErr.RetryAfter)
}

func TestPendingReservationsGateAdmission(t *testing.T) {
	ledger, clock := newTestLedger(t)
	ctx := context.Background()

	// Five committed publishes plus one outstanding reservation fill the
	// six-per-minute budget even though usage alone is below the limit.
	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.RecordPublish(ctx, "acc-1", entity.PlatformTikTok, *clock))
	}
	_, err := ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
	var rateErr *entity.RateLimitError
	require.True(t, errors.As(err, &rateErr))
}

func TestConcurrentReservesNeverJointlyExceed(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	granted := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1); err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	require.Equal(t, 6, len(granted), "grants must never exceed the minute limit")
}

func TestRollbackIsIdempotent(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	resv, err := ledger.Reserve(ctx, "acc-1", entity.PlatformReddit, 1)
	require.NoError(t, err)

	require.NoError(t, ledger.Rollback(ctx, resv.ID))
	require.NoError(t, ledger.Rollback(ctx, resv.ID))
	require.NoError(t, ledger.Rollback(ctx, "never-existed"))
}

func TestRollbackReleasesCapacity(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// Fill the minute budget with reservations.
	ids := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		resv, err := ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
		require.NoError(t, err)
		ids = append(ids, resv.ID)
	}
	_, err := ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
	require.Error(t, err)

	require.NoError(t, ledger.Rollback(ctx, ids[0]))

	_, err = ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
	require.NoError(t, err)
}

func TestCommitConvertsReservationToUsage(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		resv, err := ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
		require.NoError(t, err)
		require.NoError(t, ledger.Commit(ctx, resv.ID))
	}

	// Committed usage keeps gating exactly like the reservations did.
	_, err := ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
	var rateErr *entity.RateLimitError
	require.True(t, errors.As(err, &rateErr))
	require.Equal(t, "minute", rateErr.Window)
}

func TestAbandonedReservationExpires(t *testing.T) {
	ledger, clock := newTestLedger(t, WithReservationTTL(time.Minute))
	ctx := context.Background()

	// Fill the budget and abandon every reservation.
	for i := 0; i < 6; i++ {
		_, err := ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
		require.NoError(t, err)
	}
	_, err := ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
	require.Error(t, err)

	// Past the TTL the expired entries no longer count.
	*clock = clock.Add(2 * time.Minute)
	_, err = ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
	require.NoError(t, err)
}

func TestUsageWindowSlides(t *testing.T) {
	ledger, clock := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, ledger.RecordPublish(ctx, "acc-1", entity.PlatformTikTok, *clock))
	}
	_, err := ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
	require.Error(t, err)

	// 61 seconds later the minute window has rolled past the old usage.
	*clock = clock.Add(61 * time.Second)
	_, err = ledger.Reserve(ctx, "acc-1", entity.PlatformTikTok, 1)
	require.NoError(t, err)
}

func TestAccountsAndPlatformsIsolated(t *testing.T) {
	ledger, clock := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, ledger.RecordPublish(ctx, "acc-1", entity.PlatformTikTok, *clock))
	}

	// Other account, same platform.
	_, err := ledger.Reserve(ctx, "acc-2", entity.PlatformTikTok, 1)
	require.NoError(t, err)

	// Same account, other platform.
	_, err = ledger.Reserve(ctx, "acc-1", entity.PlatformX, 1)
	require.NoError(t, err)
}

func TestReserveUnknownPlatform(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Reserve(context.Background(), "acc-1", entity.Platform("myspace"), 1)
	require.Error(t, err)
}
