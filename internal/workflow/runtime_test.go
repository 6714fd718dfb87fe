package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	r := NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Shutdown(ctx)
	})
	return r
}

func terminal(result *entity.Result) Fn {
	return func(ctx context.Context, run *Run) (*entity.Result, error) {
		run.UpdateState(func(s *entity.WorkflowState) {
			s.Step = entity.StepCompleted
			now := time.Now().UTC()
			s.CompletedAt = &now
		})
		return result, nil
	}
}

func TestStartIsIdempotentWhileInFlight(t *testing.T) {
	r := newTestRunner(t)

	release := make(chan struct{})
	first, started := r.Start("instagram:a:1", func(ctx context.Context, run *Run) (*entity.Result, error) {
		<-release
		return &entity.Result{Status: "completed"}, nil
	})
	require.True(t, started)

	second, started := r.Start("instagram:a:1", terminal(nil))
	require.False(t, started)
	require.Same(t, first, second)

	close(release)
}

func TestStartAfterTerminalRunsFresh(t *testing.T) {
	r := newTestRunner(t)

	first, started := r.Start("instagram:a:1", terminal(&entity.Result{Status: "completed"}))
	require.True(t, started)
	_, err := first.Wait(context.Background())
	require.NoError(t, err)

	second, started := r.Start("instagram:a:1", terminal(&entity.Result{Status: "completed"}))
	require.True(t, started)
	require.NotSame(t, first, second)
}

func TestSleepReturnsOnSignal(t *testing.T) {
	r := newTestRunner(t)

	got := make(chan *Signal, 1)
	run, _ := r.Start("x:a:1", func(ctx context.Context, run *Run) (*entity.Result, error) {
		sig, err := run.Sleep(ctx, time.Minute)
		require.NoError(t, err)
		got <- sig
		return &entity.Result{Status: "cancelled"}, nil
	})

	require.NoError(t, run.Signal(Signal{Kind: SignalCancel, Reason: "test"}))

	select {
	case sig := <-got:
		require.NotNil(t, sig)
		require.Equal(t, SignalCancel, sig.Kind)
		require.Equal(t, "test", sig.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("sleep did not observe the signal")
	}
}

func TestSleepTimerFires(t *testing.T) {
	r := newTestRunner(t)

	run, _ := r.Start("x:a:2", func(ctx context.Context, run *Run) (*entity.Result, error) {
		sig, err := run.Sleep(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		require.Nil(t, sig)
		return &entity.Result{Status: "completed"}, nil
	})

	res, err := run.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "completed", res.Status)
}

func TestSignalToFinishedRunIsDropped(t *testing.T) {
	r := newTestRunner(t)

	run, _ := r.Start("x:a:3", terminal(&entity.Result{Status: "completed"}))
	_, err := run.Wait(context.Background())
	require.NoError(t, err)

	require.NoError(t, run.Signal(Signal{Kind: SignalAck}))
}

func TestSignalBacklog(t *testing.T) {
	r := newTestRunner(t)

	release := make(chan struct{})
	run, _ := r.Start("x:a:4", func(ctx context.Context, run *Run) (*entity.Result, error) {
		<-release
		return &entity.Result{Status: "completed"}, nil
	})
	defer close(release)

	for i := 0; i < 16; i++ {
		require.NoError(t, run.Signal(Signal{Kind: SignalAck}))
	}
	err := run.Signal(Signal{Kind: SignalAck})
	require.True(t, errors.Is(err, ErrSignalBacklog))
}

func TestResultBeforeFinish(t *testing.T) {
	r := newTestRunner(t)

	release := make(chan struct{})
	run, _ := r.Start("x:a:5", func(ctx context.Context, run *Run) (*entity.Result, error) {
		<-release
		return &entity.Result{Status: "completed"}, nil
	})

	_, _, done := run.Result()
	require.False(t, done)

	close(release)
	_, err := run.Wait(context.Background())
	require.NoError(t, err)

	res, err, done := run.Result()
	require.True(t, done)
	require.NoError(t, err)
	require.Equal(t, "completed", res.Status)
}

func TestEvictRemovesOnlyOldTerminalRuns(t *testing.T) {
	r := newTestRunner(t)

	old := time.Now().UTC().Add(-2 * time.Hour)
	run, _ := r.Start("x:a:6", func(ctx context.Context, run *Run) (*entity.Result, error) {
		run.UpdateState(func(s *entity.WorkflowState) {
			s.Step = entity.StepCompleted
			s.CompletedAt = &old
		})
		return &entity.Result{Status: "completed"}, nil
	})
	_, err := run.Wait(context.Background())
	require.NoError(t, err)

	release := make(chan struct{})
	r.Start("x:a:7", func(ctx context.Context, run *Run) (*entity.Result, error) {
		<-release
		return &entity.Result{Status: "completed"}, nil
	})
	defer close(release)

	require.Equal(t, []string{"x:a:6"}, r.Evict(time.Hour))

	_, ok := r.Get("x:a:6")
	require.False(t, ok)
	_, ok = r.Get("x:a:7")
	require.True(t, ok)
}

func TestShutdownCancelsRunContext(t *testing.T) {
	r := NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))

	run, _ := r.Start("x:a:8", func(ctx context.Context, run *Run) (*entity.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	_, err, done := run.Result()
	require.True(t, done)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestDoAppliesTimeout(t *testing.T) {
	err := Do(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
