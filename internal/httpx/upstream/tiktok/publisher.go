package tiktok

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
	"github.com/sevendev/crosspost/internal/publisher"
)

// Publisher implements the platform publishing contract for TikTok. The
// client_post_id forwarded on init makes repeated publish calls for the
// same logical post deduplicate on the TikTok side.
type Publisher struct {
	client *Client
}

// NewPublisher creates a TikTok publisher
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Platform returns the platform this publisher serves
func (p *Publisher) Platform() entity.Platform {
	return entity.PlatformTikTok
}

const (
	statusPollInterval = 5 * time.Second
	statusMaxAttempts  = 12
)

// Publish initializes a pull-from-URL upload and waits for the publish to
// finish processing
func (p *Publisher) Publish(ctx context.Context, in publisher.Input) (*entity.PublishResult, error) {
	init, err := p.client.InitPublish(ctx, InitPublishInput{
		AccessToken:  in.Credentials.AccessToken,
		VideoURL:     in.MediaRef,
		Caption:      buildCaption(in.Caption, in.Hashtags),
		ClientPostID: in.IdempotencyKey,
	})
	if err != nil {
		return nil, p.classify(err)
	}

	for i := 0; i < statusMaxAttempts; i++ {
		status, err := p.client.FetchStatus(ctx, in.Credentials.AccessToken, init.PublishID)
		if err != nil {
			return nil, p.classify(err)
		}
		switch status.Status {
		case "PUBLISH_COMPLETE":
			remoteID := status.PostID
			if remoteID == "" {
				remoteID = init.PublishID
			}
			return &entity.PublishResult{
				RemoteID:     remoteID,
				RemoteURL:    init.ShareURL,
				ContainerRef: init.PublishID,
				PublishedAt:  time.Now().UTC(),
			}, nil
		case "FAILED":
			return nil, &entity.ContentPolicyError{Platform: entity.PlatformTikTok, Reason: status.FailReason}
		}

		select {
		case <-ctx.Done():
			return nil, &entity.TransientPublishError{Platform: entity.PlatformTikTok, Reason: ctx.Err().Error()}
		case <-time.After(statusPollInterval):
		}
	}

	// Still processing after the budget. The webhook or ack poll settles it.
	return &entity.PublishResult{
		RemoteID:     init.PublishID,
		ContainerRef: init.PublishID,
		PublishedAt:  time.Now().UTC(),
	}, nil
}

// FetchMetrics returns view and engagement counts for a published post
func (p *Publisher) FetchMetrics(ctx context.Context, remoteID string, creds publisher.Credentials) (*entity.AckMetrics, error) {
	status, err := p.client.FetchStatus(ctx, creds.AccessToken, remoteID)
	if err != nil {
		return nil, p.classify(err)
	}
	if status.Status != "PUBLISH_COMPLETE" {
		return nil, fmt.Errorf("post %s not yet confirmed (status %s)", remoteID, status.Status)
	}
	return &entity.AckMetrics{
		Views:     status.ViewCount,
		Likes:     status.LikeCount,
		Comments:  status.CommentCount,
		Source:    "poll",
		FetchedAt: time.Now().UTC(),
	}, nil
}

func buildCaption(caption string, hashtags []string) string {
	if len(hashtags) == 0 {
		return caption
	}
	tags := make([]string, len(hashtags))
	for i, h := range hashtags {
		tags[i] = "#" + strings.TrimPrefix(h, "#")
	}
	return strings.TrimSpace(caption + " " + strings.Join(tags, " "))
}

func (p *Publisher) classify(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return &entity.TransientPublishError{Platform: entity.PlatformTikTok, Reason: err.Error()}
	}
	switch apiErr.Code {
	case "access_token_invalid", "scope_not_authorized":
		return &entity.AuthenticationError{Platform: entity.PlatformTikTok, Reason: apiErr.Message}
	case "spam_risk_too_many_posts", "rate_limit_exceeded":
		return &entity.TransientPublishError{Platform: entity.PlatformTikTok, Status: 429, Reason: apiErr.Message}
	}
	return publisher.ClassifyStatus(entity.PlatformTikTok, apiErr.HTTPStatus, apiErr.Message)
}
