// Package workflow provides the execution substrate for publish workflows:
// one run per unit of work with idempotent start, cooperative timers that
// observe inbound signals, and state queries. Runs park in channel selects
// while suspended, so scheduled or ack-waiting work holds no worker
// capacity. An external durable engine can replace this package; the
// coordinator only depends on the Run and Runner surface.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

// SignalKind identifies an external control signal
type SignalKind string

const (
	SignalCancel SignalKind = "cancel"
	SignalRetry  SignalKind = "retry"
	SignalAck    SignalKind = "ack"
)

// Signal represents an inbound control or correlation message for a run
type Signal struct {
	Kind    SignalKind
	Reason  string
	Metrics *entity.AckMetrics
}

// ErrSignalBacklog is returned when a run's signal buffer is full
var ErrSignalBacklog = errors.New("run signal buffer full")

// Run represents one in-flight or finished workflow instance
type Run struct {
	key     string
	signals chan Signal
	done    chan struct{}

	mu     sync.Mutex
	state  entity.WorkflowState
	result *entity.Result
	err    error
}

// Key returns the unit-of-work key
func (r *Run) Key() string { return r.key }

// State returns a copy of the current workflow state
func (r *Run) State() entity.WorkflowState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// UpdateState mutates the run state under the run lock. Only the coordinator
// driving the run may call it.
func (r *Run) UpdateState(fn func(*entity.WorkflowState)) entity.WorkflowState {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
	return r.state
}

// Signal delivers a control signal to the run. Delivery is non-blocking;
// signals sent to a finished run are dropped.
func (r *Run) Signal(s Signal) error {
	select {
	case <-r.done:
		return nil
	default:
	}
	select {
	case r.signals <- s:
		return nil
	default:
		return ErrSignalBacklog
	}
}

// TakeSignal returns a pending signal without blocking
func (r *Run) TakeSignal() (Signal, bool) {
	select {
	case s := <-r.signals:
		return s, true
	default:
		return Signal{}, false
	}
}

// Sleep parks the run until the duration elapses, a signal arrives, or the
// context ends. A nil signal with nil error means the timer fired.
func (r *Run) Sleep(ctx context.Context, d time.Duration) (*Signal, error) {
	if d <= 0 {
		// Still drain an already-pending signal at zero-length waits
		if s, ok := r.TakeSignal(); ok {
			return &s, nil
		}
		return nil, nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case s := <-r.signals:
		return &s, nil
	case <-timer.C:
		return nil, nil
	}
}

// Result returns the final outcome once the run is finished
func (r *Run) Result() (*entity.Result, error, bool) {
	select {
	case <-r.done:
	default:
		return nil, nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err, true
}

// Wait blocks until the run finishes or the context ends
func (r *Run) Wait(ctx context.Context) (*entity.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Fn is the body of a workflow run
type Fn func(ctx context.Context, run *Run) (*entity.Result, error)

// Runner manages workflow runs keyed by unit of work
type Runner struct {
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*Run
	wg   sync.WaitGroup

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewRunner creates a workflow runner
func NewRunner(logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		logger:     logger,
		runs:       make(map[string]*Run),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
}

// Start launches a run for the key, or attaches to the existing in-flight
// run. The second return value is false when an existing run was joined.
func (r *Runner) Start(key string, fn Fn) (*Run, bool) {
	r.mu.Lock()
	if existing, ok := r.runs[key]; ok {
		if !existing.State().Step.Terminal() {
			r.mu.Unlock()
			return existing, false
		}
	}

	run := &Run{
		key:     key,
		signals: make(chan Signal, 16),
		done:    make(chan struct{}),
		state: entity.WorkflowState{
			Key:       key,
			Step:      entity.StepInit,
			StartedAt: time.Now().UTC(),
		},
	}
	r.runs[key] = run
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer close(run.done)
		result, err := fn(r.baseCtx, run)
		run.mu.Lock()
		run.result = result
		run.err = err
		run.mu.Unlock()
		if err != nil {
			r.logger.Error("workflow run finished with error", "key", key, "error", err)
		}
	}()

	return run, true
}

// Get returns the run for a key
func (r *Runner) Get(key string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[key]
	return run, ok
}

// Evict removes finished runs older than the retention window so the run
// table does not grow without bound. The evicted keys are returned so
// callers can drop state of their own keyed by the same runs.
func (r *Runner) Evict(retention time.Duration) []string {
	cutoff := time.Now().UTC().Add(-retention)
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for key, run := range r.runs {
		st := run.State()
		if st.Step.Terminal() && st.CompletedAt != nil && st.CompletedAt.Before(cutoff) {
			delete(r.runs, key)
			evicted = append(evicted, key)
		}
	}
	return evicted
}

// Shutdown cancels all runs and waits for them to unwind
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancelBase()
	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-finished:
		return nil
	}
}

// Do runs an activity under its own timeout budget so a slow collaborator
// cannot stall the whole run
func Do(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	actCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actCtx)
}
