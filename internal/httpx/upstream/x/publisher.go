package x

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
	"github.com/sevendev/crosspost/internal/publisher"
)

// Publisher implements the platform publishing contract for X
type Publisher struct {
	client *Client
}

// NewPublisher creates an X publisher
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Platform returns the platform this publisher serves
func (p *Publisher) Platform() entity.Platform {
	return entity.PlatformX
}

// Publish creates a post. The idempotency key rides along as a client
// transaction id so a retried create resolves to the same post.
func (p *Publisher) Publish(ctx context.Context, in publisher.Input) (*entity.PublishResult, error) {
	tweet, err := p.client.CreateTweet(ctx, CreateTweetInput{
		AccessToken:    in.Credentials.AccessToken,
		Text:           in.Caption,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return nil, p.classify(err)
	}
	return &entity.PublishResult{
		RemoteID:    tweet.ID,
		RemoteURL:   fmt.Sprintf("https://x.com/%s/status/%s", in.Credentials.UserID, tweet.ID),
		PublishedAt: time.Now().UTC(),
	}, nil
}

// FetchMetrics returns public engagement counts for a post
func (p *Publisher) FetchMetrics(ctx context.Context, remoteID string, creds publisher.Credentials) (*entity.AckMetrics, error) {
	metrics, err := p.client.GetTweetMetrics(ctx, creds.AccessToken, remoteID)
	if err != nil {
		return nil, p.classify(err)
	}
	return &entity.AckMetrics{
		Views:     metrics.ImpressionCount,
		Likes:     metrics.LikeCount,
		Comments:  metrics.ReplyCount,
		Source:    "poll",
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (p *Publisher) classify(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return &entity.TransientPublishError{Platform: entity.PlatformX, Reason: err.Error()}
	}
	return publisher.ClassifyStatus(entity.PlatformX, apiErr.HTTPStatus, apiErr.Detail)
}
