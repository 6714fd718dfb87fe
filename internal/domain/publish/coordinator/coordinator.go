// Package coordinator drives a publish request from approved to live exactly
// once: policy gate, rate budget reservation, the remote publish call with
// bounded retry and compensating rollback, then ack reconciliation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sevendev/crosspost/internal/domain/publish/dao"
	"github.com/sevendev/crosspost/internal/domain/publish/entity"
	"github.com/sevendev/crosspost/internal/domain/ratelimit"
	"github.com/sevendev/crosspost/internal/publisher"
	"github.com/sevendev/crosspost/internal/workflow"
)

// PolicyChecker defines the pre-publish policy gate.
// Interface is defined here (consumer) not in the policy package (provider).
type PolicyChecker interface {
	Check(ctx context.Context, req *entity.PublishRequest) (entity.PolicyCheckResult, error)
}

// Ledger defines the rate budget operations the coordinator needs
type Ledger interface {
	Reserve(ctx context.Context, accountID string, platform entity.Platform, cost int) (*ratelimit.Reservation, error)
	Rollback(ctx context.Context, reservationID string) error
	Commit(ctx context.Context, reservationID string) error
}

// Registry resolves the publisher variant for a platform
type Registry interface {
	Get(platform entity.Platform) (publisher.Publisher, error)
}

// MediaIntel resolves the stored kind of a referenced media object so
// publishers receive image and video payloads on the right API fields
type MediaIntel interface {
	Inspect(ctx context.Context, mediaRef string) (score float64, kind entity.MediaKind, found bool, err error)
}

// AccountProvider resolves platform credentials for a token reference
type AccountProvider interface {
	Credentials(ctx context.Context, tokenID string) (publisher.Credentials, error)
}

// Metrics records coordinator outcomes
type Metrics interface {
	PublishFinished(platform entity.Platform, status string, dur time.Duration)
	PublishRetried(platform entity.Platform)
	RateLimited(platform entity.Platform)
}

// NopMetrics is a metrics sink that records nothing
type NopMetrics struct{}

func (NopMetrics) PublishFinished(entity.Platform, string, time.Duration) {}
func (NopMetrics) PublishRetried(entity.Platform)                         {}
func (NopMetrics) RateLimited(entity.Platform)                            {}

// Config holds the coordinator timing budget. Every activity has its own
// timeout so one slow collaborator cannot stall the run.
type Config struct {
	MaxPublishRetries int
	RetryBackoffBase  time.Duration
	PolicyTimeout     time.Duration
	ReserveTimeout    time.Duration
	PublishTimeout    time.Duration
	AckWindow         time.Duration
	AckPollInterval   time.Duration
}

// DefaultConfig returns production timing defaults
func DefaultConfig() Config {
	return Config{
		MaxPublishRetries: 3,
		RetryBackoffBase:  time.Minute,
		PolicyTimeout:     10 * time.Second,
		ReserveTimeout:    5 * time.Second,
		PublishTimeout:    5 * time.Minute,
		AckWindow:         30 * time.Minute,
		AckPollInterval:   30 * time.Second,
	}
}

// Coordinator orchestrates publish workflows
type Coordinator struct {
	runner      *workflow.Runner
	policy      PolicyChecker
	ledger      Ledger
	registry    Registry
	accounts    AccountProvider
	media       MediaIntel
	status      dao.StatusStore
	attempts    dao.AttemptStore
	remotes     dao.RemotePostStore
	checkpoints dao.CheckpointStore
	ack         *AckReconciler
	metrics     Metrics
	logger      *slog.Logger
	cfg         Config

	// reqs remembers the originating request per run key so Retry can
	// re-submit a failed workflow
	reqs sync.Map

	now func() time.Time
}

// New creates a publish coordinator
func New(
	runner *workflow.Runner,
	policy PolicyChecker,
	ledger Ledger,
	registry Registry,
	accounts AccountProvider,
	media MediaIntel,
	status dao.StatusStore,
	attempts dao.AttemptStore,
	remotes dao.RemotePostStore,
	checkpoints dao.CheckpointStore,
	metrics Metrics,
	logger *slog.Logger,
	cfg Config,
) *Coordinator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Coordinator{
		runner:      runner,
		policy:      policy,
		ledger:      ledger,
		registry:    registry,
		accounts:    accounts,
		media:       media,
		status:      status,
		attempts:    attempts,
		remotes:     remotes,
		checkpoints: checkpoints,
		ack:         NewAckReconciler(registry, cfg.AckWindow, cfg.AckPollInterval, logger),
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Submit starts a workflow for the request, or attaches to the in-flight run
// for the same platform:accountId:postId key. The second return value is
// false when an existing run was joined.
func (c *Coordinator) Submit(ctx context.Context, req *entity.PublishRequest) (*workflow.Run, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	c.reqs.Store(req.Key(), req)
	run, started := c.runner.Start(req.Key(), func(runCtx context.Context, run *workflow.Run) (*entity.Result, error) {
		return c.execute(runCtx, run, req)
	})
	if started {
		c.logger.Info("publish workflow started",
			"key", req.Key(), "platform", req.Platform, "creator_id", req.CreatorID)
	}
	return run, started, nil
}

// Cancel delivers a cancel signal to a run. Once the remote publish call has
// been issued the run records the cancel as a no-op warning instead.
func (c *Coordinator) Cancel(key, reason string) error {
	run, ok := c.runner.Get(key)
	if !ok {
		return entity.ErrWorkflowNotFound
	}
	if run.State().Step.Terminal() {
		return entity.ErrWorkflowTerminal
	}
	return run.Signal(workflow.Signal{Kind: workflow.SignalCancel, Reason: reason})
}

// Retry re-runs a failed workflow. Attempt records keep the remote side
// effect at-most-once across re-runs.
func (c *Coordinator) Retry(ctx context.Context, key string) (*workflow.Run, error) {
	run, ok := c.runner.Get(key)
	if !ok {
		return nil, entity.ErrWorkflowNotFound
	}
	st := run.State()
	if st.Step != entity.StepFailed {
		return nil, entity.ErrRetryNotFailed
	}
	req, ok := c.requestOf(key)
	if !ok {
		return nil, fmt.Errorf("no request recorded for workflow %s", key)
	}
	fresh, _, err := c.Submit(ctx, req)
	return fresh, err
}

// GetState returns the workflow state for a key
func (c *Coordinator) GetState(key string) (entity.WorkflowState, error) {
	run, ok := c.runner.Get(key)
	if !ok {
		return entity.WorkflowState{}, entity.ErrWorkflowNotFound
	}
	return run.State(), nil
}

// Progress represents the position of a workflow
type Progress struct {
	Step            entity.Step `json:"step"`
	ProgressPercent int         `json:"progress_percent"`
}

// GetProgress returns a monotonic completion percentage for a key
func (c *Coordinator) GetProgress(key string) (Progress, error) {
	run, ok := c.runner.Get(key)
	if !ok {
		return Progress{}, entity.ErrWorkflowNotFound
	}
	step := run.State().Step
	return Progress{Step: step, ProgressPercent: step.Progress()}, nil
}

// Signal delivers an ack signal from the webhook side to a run, if one is in
// flight for the key
func (c *Coordinator) Signal(key string, s workflow.Signal) {
	if run, ok := c.runner.Get(key); ok {
		if err := run.Signal(s); err != nil {
			c.logger.Warn("dropping signal", "key", key, "kind", s.Kind, "error", err)
		}
	}
}

// Evict drops finished runs past the retention window together with their
// remembered requests, so neither table grows for the process lifetime
func (c *Coordinator) Evict(retention time.Duration) int {
	evicted := c.runner.Evict(retention)
	for _, key := range evicted {
		c.reqs.Delete(key)
	}
	return len(evicted)
}

func (c *Coordinator) requestOf(key string) (*entity.PublishRequest, bool) {
	v, ok := c.reqs.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*entity.PublishRequest), true
}

// execute is the workflow body. Cancellation is cooperative: checked before
// the scheduled wait and at every step boundary, never pre-empting a call
// already in flight.
func (c *Coordinator) execute(ctx context.Context, run *workflow.Run, req *entity.PublishRequest) (*entity.Result, error) {
	started := c.now()

	c.transition(ctx, run, entity.StepInit, nil)
	c.updateStatus(ctx, req, entity.PostStatusPending, entity.StepInit, "", nil)

	// Scheduled-time wait
	if req.ScheduleAt != nil && req.ScheduleAt.After(c.now()) {
		c.updateStatus(ctx, req, entity.PostStatusScheduled, entity.StepInit, "", nil)
		if cancelled, reason := c.waitUntil(ctx, run, *req.ScheduleAt); cancelled {
			return c.finishCancelled(ctx, run, req, reason, started), nil
		}
	}
	if reason, ok := c.pendingCancel(run); ok {
		return c.finishCancelled(ctx, run, req, reason, started), nil
	}

	// Policy gate: terminal on violation, never retried
	c.transition(ctx, run, entity.StepPolicyCheck, nil)
	var policyRes entity.PolicyCheckResult
	err := workflow.Do(ctx, c.cfg.PolicyTimeout, func(actCtx context.Context) error {
		var checkErr error
		policyRes, checkErr = c.policy.Check(actCtx, req)
		return checkErr
	})
	if err != nil {
		return c.finishFailed(ctx, run, req, entity.PostStatusFailed,
			fmt.Errorf("policy check: %w", err), started), nil
	}
	if !policyRes.Passed {
		return c.finishFailed(ctx, run, req, entity.PostStatusPolicyFailed,
			&entity.PolicyViolationError{Result: policyRes}, started), nil
	}
	if reason, ok := c.pendingCancel(run); ok {
		return c.finishCancelled(ctx, run, req, reason, started), nil
	}

	// Rate budget gate
	c.transition(ctx, run, entity.StepRateReserved, nil)
	reservation, err := c.reserve(ctx, req)
	if err != nil {
		var rl *entity.RateLimitError
		status := entity.PostStatusFailed
		if errors.As(err, &rl) {
			status = entity.PostStatusRateLimited
			c.metrics.RateLimited(req.Platform)
		}
		return c.finishFailed(ctx, run, req, status, err, started), nil
	}
	run.UpdateState(func(st *entity.WorkflowState) { st.ReservationID = reservation.ID })
	if reason, ok := c.pendingCancel(run); ok {
		// The reservation was never consumed; release it before leaving.
		c.rollback(ctx, reservation.ID)
		return c.finishCancelled(ctx, run, req, reason, started), nil
	}

	// Remote publish with bounded retry and compensating rollback
	c.transition(ctx, run, entity.StepPublishing, nil)
	c.updateStatus(ctx, req, entity.PostStatusPublishing, entity.StepPublishing, "", nil)
	result, err := c.publishWithRetry(ctx, run, req, reservation)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return c.finishCancelled(ctx, run, req, "cancelled during retry wait", started), nil
		}
		status := entity.PostStatusFailed
		var rl *entity.RateLimitError
		if errors.As(err, &rl) {
			status = entity.PostStatusRateLimited
			c.metrics.RateLimited(req.Platform)
		}
		return c.finishFailed(ctx, run, req, status, err, started), nil
	}

	run.UpdateState(func(st *entity.WorkflowState) {
		st.RemoteID = result.RemoteID
		st.RemoteURL = result.RemoteURL
	})
	c.updateStatus(ctx, req, entity.PostStatusLive, entity.StepAwaitingAck, "", entity.PublishSuccessMetadata{
		RemoteID:     result.RemoteID,
		RemoteURL:    result.RemoteURL,
		ContainerRef: result.ContainerRef,
	})

	// Ack reconciliation: webhook or polling, timeout is not a failure
	c.transition(ctx, run, entity.StepAwaitingAck, nil)
	creds, credsErr := c.accounts.Credentials(ctx, req.TokenID)
	var metrics *entity.AckMetrics
	if credsErr != nil {
		// The post is live; without credentials polling is off the table
		// but a webhook can still confirm.
		c.logger.Warn("ack polling disabled, credentials unavailable",
			"key", req.Key(), "error", credsErr)
	}
	metrics = c.ack.Await(ctx, run, req.Platform, result.RemoteID, creds, credsErr == nil)

	now := c.now().UTC()
	c.transition(ctx, run, entity.StepCompleted, func(st *entity.WorkflowState) {
		st.CompletedAt = &now
	})
	_ = c.status.LogEvent(ctx, req.Key(), "workflow_completed", metrics)

	dur := c.now().Sub(started)
	c.metrics.PublishFinished(req.Platform, "completed", dur)
	return &entity.Result{
		Status:     "completed",
		RemoteID:   result.RemoteID,
		RemoteURL:  result.RemoteURL,
		Metrics:    metrics,
		DurationMs: dur.Milliseconds(),
	}, nil
}

// publishWithRetry issues the remote call, rolling back the reservation on
// every failure and re-reserving for each retry. The stored attempt record
// makes the remote side effect at-most-once across retries and restarts.
func (c *Coordinator) publishWithRetry(ctx context.Context, run *workflow.Run, req *entity.PublishRequest, reservation *ratelimit.Reservation) (*entity.PublishResult, error) {
	pub, err := c.registry.Get(req.Platform)
	if err != nil {
		c.rollback(ctx, reservation.ID)
		return nil, err
	}

	creds, err := c.accounts.Credentials(ctx, req.TokenID)
	if err != nil {
		c.rollback(ctx, reservation.ID)
		return nil, &entity.AuthenticationError{Platform: req.Platform, Reason: err.Error()}
	}

	if err := c.attempts.Begin(ctx, req.IdempotencyKey, req.PostID); err != nil {
		c.rollback(ctx, reservation.ID)
		return nil, fmt.Errorf("recording publish attempt: %w", err)
	}

	mediaKind := c.resolveMediaKind(ctx, req)

	for {
		// A prior process may already have published under this key.
		if prior, ok, err := c.attempts.GetSuccessful(ctx, req.IdempotencyKey); err == nil && ok {
			c.logger.Info("reusing prior successful publish", "key", req.Key(), "remote_id", prior.RemoteID)
			if err := c.ledger.Commit(ctx, reservation.ID); err != nil {
				c.logger.Warn("committing reservation after replay", "key", req.Key(), "error", err)
			}
			return prior, nil
		}

		var result *entity.PublishResult
		err := workflow.Do(ctx, c.cfg.PublishTimeout, func(actCtx context.Context) error {
			var pubErr error
			result, pubErr = pub.Publish(actCtx, publisher.Input{
				AccountID:      req.AccountID,
				Credentials:    creds,
				MediaRef:       req.MediaRef,
				MediaKind:      mediaKind,
				Caption:        req.Caption,
				Hashtags:       req.Hashtags,
				Mentions:       req.Mentions,
				Location:       req.Location,
				IdempotencyKey: req.IdempotencyKey,
			})
			return pubErr
		})
		if err == nil {
			if err := c.attempts.Succeeded(ctx, req.IdempotencyKey, result); err != nil {
				c.logger.Error("persisting successful attempt", "key", req.Key(), "error", err)
			}
			if err := c.ledger.Commit(ctx, reservation.ID); err != nil {
				c.logger.Warn("committing reservation", "key", req.Key(), "error", err)
			}
			if err := c.remotes.Map(ctx, req.Platform, result.RemoteID, req.PostID, req.Key()); err != nil {
				c.logger.Error("mapping remote post", "key", req.Key(), "error", err)
			}
			return result, nil
		}

		// Compensate: release the reserved capacity for this failed attempt
		c.rollback(ctx, reservation.ID)

		retryCount := run.UpdateState(func(st *entity.WorkflowState) { st.RetryCount++ }).RetryCount
		if !entity.Retryable(err) || retryCount >= c.cfg.MaxPublishRetries {
			return nil, err
		}
		c.metrics.PublishRetried(req.Platform)

		backoff := c.cfg.RetryBackoffBase << retryCount // 2^retryCount * base
		c.logger.Warn("publish attempt failed, retrying",
			"key", req.Key(), "retry_count", retryCount, "backoff", backoff, "error", err)
		_ = c.status.LogEvent(ctx, req.Key(), "publish_retry_scheduled", map[string]interface{}{
			"retry_count": retryCount,
			"backoff_s":   backoff.Seconds(),
			"error":       err.Error(),
		})

		sig, sleepErr := run.Sleep(ctx, backoff)
		if sleepErr != nil {
			return nil, fmt.Errorf("retry wait interrupted: %w", sleepErr)
		}
		if sig != nil && sig.Kind == workflow.SignalCancel {
			// No call in flight right now, cancellation still wins.
			return nil, context.Canceled
		}

		fresh, err := c.reserve(ctx, req)
		if err != nil {
			return nil, err
		}
		reservation = fresh
		run.UpdateState(func(st *entity.WorkflowState) { st.ReservationID = fresh.ID })
	}
}

// resolveMediaKind looks up the stored kind of the referenced media so
// video publishes land on the video field of platform APIs. A missing
// object or lookup failure falls back to image, matching the policy gate's
// warn-and-continue stance on absent metadata.
func (c *Coordinator) resolveMediaKind(ctx context.Context, req *entity.PublishRequest) entity.MediaKind {
	if req.MediaRef == "" {
		return ""
	}
	_, kind, found, err := c.media.Inspect(ctx, req.MediaRef)
	if err != nil {
		c.logger.Warn("media kind lookup failed, defaulting to image",
			"key", req.Key(), "media_ref", req.MediaRef, "error", err)
		return entity.MediaKindImage
	}
	if !found {
		return entity.MediaKindImage
	}
	return kind
}

func (c *Coordinator) reserve(ctx context.Context, req *entity.PublishRequest) (*ratelimit.Reservation, error) {
	var reservation *ratelimit.Reservation
	err := workflow.Do(ctx, c.cfg.ReserveTimeout, func(actCtx context.Context) error {
		var rErr error
		reservation, rErr = c.ledger.Reserve(actCtx, req.AccountID, req.Platform, 1)
		return rErr
	})
	return reservation, err
}

func (c *Coordinator) rollback(ctx context.Context, reservationID string) {
	if reservationID == "" {
		return
	}
	if err := c.ledger.Rollback(ctx, reservationID); err != nil {
		c.logger.Error("rolling back reservation", "reservation_id", reservationID, "error", err)
	}
}

// waitUntil parks the run until the scheduled time, honoring cancel signals
func (c *Coordinator) waitUntil(ctx context.Context, run *workflow.Run, at time.Time) (cancelled bool, reason string) {
	for {
		remaining := at.Sub(c.now())
		if remaining <= 0 {
			return false, ""
		}
		sig, err := run.Sleep(ctx, remaining)
		if err != nil {
			return true, "runtime shutdown"
		}
		if sig == nil {
			return false, ""
		}
		switch sig.Kind {
		case workflow.SignalCancel:
			return true, sig.Reason
		default:
			// retry/ack signals are meaningless while scheduled; drop them
		}
	}
}

// pendingCancel drains a queued cancel signal at a step boundary
func (c *Coordinator) pendingCancel(run *workflow.Run) (string, bool) {
	sig, ok := run.TakeSignal()
	if !ok {
		return "", false
	}
	if sig.Kind == workflow.SignalCancel {
		return sig.Reason, true
	}
	return "", false
}

func (c *Coordinator) transition(ctx context.Context, run *workflow.Run, step entity.Step, mutate func(*entity.WorkflowState)) {
	state := run.UpdateState(func(st *entity.WorkflowState) {
		st.Step = step
		if mutate != nil {
			mutate(st)
		}
	})
	if err := c.checkpoints.Save(ctx, state); err != nil {
		c.logger.Error("saving workflow checkpoint", "key", state.Key, "step", step, "error", err)
	}
	_ = c.status.LogEvent(ctx, state.Key, "step_"+string(step), nil)
}

func (c *Coordinator) updateStatus(ctx context.Context, req *entity.PublishRequest, status entity.PostStatus, step entity.Step, errMsg string, metadata entity.Metadata) {
	if err := c.status.UpdatePostStatus(ctx, req.PostID, status, step.Ordinal(), errMsg, metadata); err != nil {
		c.logger.Error("updating post status", "post_id", req.PostID, "status", status, "error", err)
	}
}

func (c *Coordinator) finishFailed(ctx context.Context, run *workflow.Run, req *entity.PublishRequest, status entity.PostStatus, cause error, started time.Time) *entity.Result {
	now := c.now().UTC()
	c.transition(ctx, run, entity.StepFailed, func(st *entity.WorkflowState) {
		st.Error = cause.Error()
		st.CompletedAt = &now
	})
	c.updateStatus(ctx, req, status, entity.StepFailed, cause.Error(), entity.ErrorMetadata{
		Reason:  entity.FailureReason(cause),
		Message: cause.Error(),
	})
	c.logger.Error("publish workflow failed",
		"key", req.Key(), "status", status, "reason", entity.FailureReason(cause), "error", cause)

	dur := c.now().Sub(started)
	c.metrics.PublishFinished(req.Platform, "failed", dur)
	return &entity.Result{Status: "failed", DurationMs: dur.Milliseconds()}
}

func (c *Coordinator) finishCancelled(ctx context.Context, run *workflow.Run, req *entity.PublishRequest, reason string, started time.Time) *entity.Result {
	now := c.now().UTC()
	c.transition(ctx, run, entity.StepCancelled, func(st *entity.WorkflowState) {
		st.Error = reason
		st.CompletedAt = &now
	})
	c.updateStatus(ctx, req, entity.PostStatusCancelled, entity.StepCancelled, reason, nil)
	c.logger.Info("publish workflow cancelled", "key", req.Key(), "reason", reason)

	dur := c.now().Sub(started)
	c.metrics.PublishFinished(req.Platform, "cancelled", dur)
	return &entity.Result{Status: "cancelled", DurationMs: dur.Milliseconds()}
}
