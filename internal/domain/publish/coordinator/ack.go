package coordinator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
	"github.com/sevendev/crosspost/internal/publisher"
	"github.com/sevendev/crosspost/internal/workflow"
)

// AckReconciler resolves eventual confirmation of a live post: it waits for
// a webhook-delivered ack signal and falls back to polling the platform
// until the ack window closes. A timeout is not a failure; the post is
// already live, so the workflow completes with placeholder metrics.
type AckReconciler struct {
	registry     Registry
	window       time.Duration
	pollInterval time.Duration
	logger       *slog.Logger

	// pollLimiters throttles polling per platform across all concurrent
	// runs so a large ack backlog cannot hammer a provider API
	pollLimiters map[entity.Platform]*rate.Limiter
}

// NewAckReconciler creates an ack reconciler
func NewAckReconciler(registry Registry, window, pollInterval time.Duration, logger *slog.Logger) *AckReconciler {
	limiters := make(map[entity.Platform]*rate.Limiter, len(entity.Platforms))
	for _, p := range entity.Platforms {
		limiters[p] = rate.NewLimiter(rate.Limit(5), 10)
	}
	return &AckReconciler{
		registry:     registry,
		window:       window,
		pollInterval: pollInterval,
		logger:       logger,
		pollLimiters: limiters,
	}
}

// Await blocks until a webhook ack arrives, a poll returns metrics, or the
// window elapses. canPoll disables the polling fallback when no credentials
// could be resolved.
func (a *AckReconciler) Await(ctx context.Context, run *workflow.Run, platform entity.Platform, remoteID string, creds publisher.Credentials, canPoll bool) *entity.AckMetrics {
	deadline := time.Now().Add(a.window)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			a.logger.Info("ack window elapsed, completing with placeholder metrics",
				"key", run.Key(), "platform", platform, "remote_id", remoteID)
			return &entity.AckMetrics{Timeout: true, FetchedAt: time.Now().UTC()}
		}

		wait := a.pollInterval
		if wait > remaining {
			wait = remaining
		}
		sig, err := run.Sleep(ctx, wait)
		if err != nil {
			// Runtime shutdown; the post is live, report what we have.
			return &entity.AckMetrics{Timeout: true, FetchedAt: time.Now().UTC()}
		}
		if sig != nil {
			switch sig.Kind {
			case workflow.SignalAck:
				if sig.Metrics != nil {
					return sig.Metrics
				}
				return &entity.AckMetrics{Source: "webhook", FetchedAt: time.Now().UTC()}
			case workflow.SignalCancel:
				// Too late to cancel, the post is already live.
				a.logger.Warn("cancel ignored, remote publish already issued",
					"key", run.Key(), "reason", sig.Reason)
				continue
			default:
				continue
			}
		}

		if !canPoll {
			continue
		}
		if !a.pollLimiters[platform].Allow() {
			continue
		}
		metrics, err := a.poll(ctx, platform, remoteID, creds)
		if err != nil {
			a.logger.Debug("ack poll returned nothing yet",
				"key", run.Key(), "remote_id", remoteID, "error", err)
			continue
		}
		return metrics
	}
}

func (a *AckReconciler) poll(ctx context.Context, platform entity.Platform, remoteID string, creds publisher.Credentials) (*entity.AckMetrics, error) {
	pub, err := a.registry.Get(platform)
	if err != nil {
		return nil, err
	}
	pollCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return pub.FetchMetrics(pollCtx, remoteID, creds)
}
