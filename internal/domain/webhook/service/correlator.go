package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pubdao "github.com/sevendev/crosspost/internal/domain/publish/dao"
	pubentity "github.com/sevendev/crosspost/internal/domain/publish/entity"
	"github.com/sevendev/crosspost/internal/domain/webhook/dao"
	"github.com/sevendev/crosspost/internal/domain/webhook/entity"
	"github.com/sevendev/crosspost/internal/workflow"
)

// Resolver maps a provider media id to the internal post and workflow key
type Resolver interface {
	Resolve(ctx context.Context, platform pubentity.Platform, remoteID string) (pubdao.RemotePost, bool, error)
}

// Signaler delivers a correlation signal to an in-flight workflow run.
// Delivery is best effort; a run that already finished simply misses it.
type Signaler interface {
	Signal(key string, s workflow.Signal)
}

// StatusWriter updates durable post status from provider-side events
type StatusWriter interface {
	UpdatePostStatus(ctx context.Context, postID string, status pubentity.PostStatus, stepOrd int, errMsg string, metadata pubentity.Metadata) error
}

// Metrics records webhook processing outcomes
type Metrics interface {
	WebhookReceived(provider entity.Provider)
	WebhookCompleted(provider entity.Provider)
	WebhookFailed(provider entity.Provider)
}

// NopMetrics is a metrics sink that records nothing
type NopMetrics struct{}

func (NopMetrics) WebhookReceived(entity.Provider)  {}
func (NopMetrics) WebhookCompleted(entity.Provider) {}
func (NopMetrics) WebhookFailed(entity.Provider)    {}

// Config holds correlator retry tuning
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	DueBatch    int
}

// DefaultConfig returns production retry defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 6,
		BaseBackoff: 5 * time.Second,
		DueBatch:    100,
	}
}

// Correlator routes inbound provider events to the matching post and
// workflow run. Processing is at-least-once: a handler failure persists
// the retry state and a periodic tick re-enters ProcessDue, so a single
// delivery never retries in an unbounded call chain.
type Correlator struct {
	events   dao.EventRepository
	resolver Resolver
	signaler Signaler
	statuses StatusWriter
	metrics  Metrics
	cfg      Config
	logger   *slog.Logger
}

// NewCorrelator creates a webhook correlator
func NewCorrelator(
	events dao.EventRepository,
	resolver Resolver,
	signaler Signaler,
	statuses StatusWriter,
	metrics Metrics,
	cfg Config,
	logger *slog.Logger,
) *Correlator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}
	if cfg.DueBatch <= 0 {
		cfg.DueBatch = DefaultConfig().DueBatch
	}
	return &Correlator{
		events:   events,
		resolver: resolver,
		signaler: signaler,
		statuses: statuses,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handle ingests one delivery: persist, run the provider handler once, and
// either complete the event or persist its retry state for ProcessDue.
// Duplicate deliveries are acknowledged silently.
func (c *Correlator) Handle(ctx context.Context, event *entity.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	if err := c.events.Insert(ctx, event); err != nil {
		if errors.Is(err, entity.ErrDuplicateEvent) {
			c.logger.Debug("duplicate webhook delivery ignored",
				"provider", event.Provider, "event_id", event.EventID)
			return nil
		}
		return err
	}
	c.metrics.WebhookReceived(event.Provider)

	if err := c.events.UpdateStatus(ctx, event.ID, entity.StatusProcessing, 0, "", nil); err != nil {
		return err
	}
	event.Status = entity.StatusProcessing

	c.settle(ctx, event, c.process(ctx, event))
	return nil
}

// ProcessDue retries events whose backoff has elapsed. Invoked by a cron
// tick, not by the handler itself.
func (c *Correlator) ProcessDue(ctx context.Context) error {
	due, err := c.events.ListDue(ctx, time.Now().UTC(), c.cfg.DueBatch)
	if err != nil {
		return fmt.Errorf("listing due webhook events: %w", err)
	}
	for i := range due {
		event := &due[i]
		c.settle(ctx, event, c.process(ctx, event))
	}
	return nil
}

func (c *Correlator) settle(ctx context.Context, event *entity.Event, handlerErr error) {
	attempts := event.Attempts + 1

	if handlerErr == nil {
		if err := c.events.UpdateStatus(ctx, event.ID, entity.StatusCompleted, attempts, "", nil); err != nil {
			c.logger.Error("persisting webhook completion", "event_id", event.EventID, "error", err)
		}
		c.metrics.WebhookCompleted(event.Provider)
		return
	}

	if attempts >= c.cfg.MaxAttempts {
		c.logger.Error("webhook processing exhausted retries, needs manual review",
			"provider", event.Provider, "event_id", event.EventID,
			"event_type", event.EventType, "attempts", attempts, "error", handlerErr)
		if err := c.events.UpdateStatus(ctx, event.ID, entity.StatusFailed, attempts, handlerErr.Error(), nil); err != nil {
			c.logger.Error("persisting webhook failure", "event_id", event.EventID, "error", err)
		}
		c.metrics.WebhookFailed(event.Provider)
		return
	}

	next := time.Now().UTC().Add(c.cfg.BaseBackoff << (attempts - 1))
	c.logger.Warn("webhook handler failed, scheduling retry",
		"provider", event.Provider, "event_id", event.EventID,
		"attempt", attempts, "next_attempt_at", next, "error", handlerErr)
	if err := c.events.UpdateStatus(ctx, event.ID, entity.StatusProcessing, attempts, handlerErr.Error(), &next); err != nil {
		c.logger.Error("persisting webhook retry state", "event_id", event.EventID, "error", err)
	}
}

func (c *Correlator) process(ctx context.Context, event *entity.Event) error {
	switch event.Provider {
	case entity.ProviderTikTok:
		return c.processTikTok(ctx, event)
	case entity.ProviderMeta:
		return c.processMeta(ctx, event)
	default:
		return entity.ErrUnknownProvider
	}
}

type tiktokPayload struct {
	PostID           string `json:"post_id"`
	PublishID        string `json:"publish_id"`
	Reason           string `json:"reason"`
	ModerationStatus string `json:"moderation_status"`
}

func (c *Correlator) processTikTok(ctx context.Context, event *entity.Event) error {
	var payload tiktokPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decoding tiktok payload: %w", err)
	}
	remoteID := event.PlatformID
	if remoteID == "" {
		remoteID = payload.PostID
	}
	if remoteID == "" {
		remoteID = payload.PublishID
	}

	switch event.EventType {
	case "video.publish.complete":
		post, found, err := c.lookup(ctx, event, pubentity.PlatformTikTok, remoteID)
		if err != nil || !found {
			return err
		}
		c.signaler.Signal(post.WorkflowKey, workflow.Signal{
			Kind: workflow.SignalAck,
			Metrics: &pubentity.AckMetrics{
				Source:    "webhook",
				FetchedAt: time.Now().UTC(),
			},
		})
		return nil

	case "video.publish.failed":
		post, found, err := c.lookup(ctx, event, pubentity.PlatformTikTok, remoteID)
		if err != nil || !found {
			return err
		}
		reason := payload.Reason
		if reason == "" {
			reason = "publish rejected by platform"
		}
		return c.statuses.UpdatePostStatus(ctx, post.PostID, pubentity.PostStatusFailed,
			pubentity.StepFailed.Ordinal(), reason,
			pubentity.ErrorMetadata{Reason: "content_policy", Message: reason})

	case "video.moderation.update":
		post, found, err := c.lookup(ctx, event, pubentity.PlatformTikTok, remoteID)
		if err != nil || !found {
			return err
		}
		return c.statuses.UpdatePostStatus(ctx, post.PostID, pubentity.PostStatusModerated,
			pubentity.StepCompleted.Ordinal(), "",
			pubentity.ModerationMetadata{Decision: moderationDecision(payload.ModerationStatus), Reason: payload.Reason})

	default:
		c.logger.Info("unrecognized tiktok event type ignored",
			"event_id", event.EventID, "event_type", event.EventType)
		return nil
	}
}

// moderationDecision normalizes provider moderation states onto the stored
// decision vocabulary
func moderationDecision(status string) string {
	switch status {
	case "approved", "pass", "visible":
		return "approved"
	case "rejected", "failed", "removed":
		return "rejected"
	default:
		return "restricted"
	}
}

type metaPayload struct {
	MediaID string `json:"media_id"`
	Text    string `json:"text"`
}

func (c *Correlator) processMeta(ctx context.Context, event *entity.Event) error {
	switch event.EventType {
	case "comments", "mentions":
		var payload metaPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decoding meta payload: %w", err)
		}
		remoteID := event.PlatformID
		if remoteID == "" {
			remoteID = payload.MediaID
		}
		post, found, err := c.lookup(ctx, event, pubentity.PlatformInstagram, remoteID)
		if err != nil || !found {
			return err
		}
		// Engagement on the media confirms it is live.
		c.signaler.Signal(post.WorkflowKey, workflow.Signal{
			Kind: workflow.SignalAck,
			Metrics: &pubentity.AckMetrics{
				Source:    "webhook",
				FetchedAt: time.Now().UTC(),
			},
		})
		c.logger.Info("engagement event recorded",
			"post_id", post.PostID, "event_type", event.EventType)
		return nil

	case "messages":
		// Direct messages carry no media reference, nothing to correlate.
		c.logger.Info("message event received", "event_id", event.EventID)
		return nil

	default:
		c.logger.Info("unrecognized meta event type ignored",
			"event_id", event.EventID, "event_type", event.EventType)
		return nil
	}
}

// lookup resolves the provider media id to the internal post. A missing
// mapping is logged and dropped, never escalated.
func (c *Correlator) lookup(ctx context.Context, event *entity.Event, platform pubentity.Platform, remoteID string) (pubdao.RemotePost, bool, error) {
	if remoteID == "" {
		c.logger.Warn("webhook event carries no platform id, dropping",
			"provider", event.Provider, "event_id", event.EventID, "event_type", event.EventType)
		return pubdao.RemotePost{}, false, nil
	}
	post, found, err := c.resolver.Resolve(ctx, platform, remoteID)
	if err != nil {
		return pubdao.RemotePost{}, false, fmt.Errorf("resolving post mapping: %w", err)
	}
	if !found {
		c.logger.Warn("no post mapping for webhook event, dropping",
			"provider", event.Provider, "event_id", event.EventID,
			"platform_id", remoteID)
		return pubdao.RemotePost{}, false, nil
	}
	return post, true, nil
}
