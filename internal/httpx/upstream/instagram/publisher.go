package instagram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
	"github.com/sevendev/crosspost/internal/publisher"
)

// Publisher implements the platform publishing contract for Instagram.
// Instagram publishing is a three step flow: create container, wait for
// processing, publish container. The media_publish endpoint is not natively
// idempotent; the coordinator's attempt records cover replays.
type Publisher struct {
	client *Client
}

// NewPublisher creates an Instagram publisher
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Platform returns the platform this publisher serves
func (p *Publisher) Platform() entity.Platform {
	return entity.PlatformInstagram
}

// Publish drives the container flow and returns the remote identifiers
func (p *Publisher) Publish(ctx context.Context, in publisher.Input) (*entity.PublishResult, error) {
	containerIn := CreateContainerInput{
		UserID:      in.Credentials.UserID,
		AccessToken: in.Credentials.AccessToken,
		Caption:     in.Caption,
	}
	if in.MediaKind == entity.MediaKindVideo {
		containerIn.VideoURL = in.MediaRef
	} else {
		containerIn.ImageURL = in.MediaRef
	}
	if in.Location != nil {
		containerIn.LocationID = in.Location.PlaceID
	}

	container, err := p.client.CreateContainer(ctx, containerIn)
	if err != nil {
		return nil, p.classify(err)
	}

	if err := p.waitForContainer(ctx, container.ID, in.Credentials.AccessToken); err != nil {
		return nil, err
	}

	mediaID, err := p.client.PublishContainer(ctx, in.Credentials.UserID, in.Credentials.AccessToken, container.ID)
	if err != nil {
		return nil, p.classify(err)
	}

	result := &entity.PublishResult{
		RemoteID:     mediaID,
		ContainerRef: container.ID,
		PublishedAt:  time.Now().UTC(),
	}

	// Permalink lookup is best effort, the media ID alone is a valid result
	if insights, err := p.client.GetMediaInsights(ctx, mediaID, in.Credentials.AccessToken); err == nil {
		result.RemoteURL = insights.Permalink
	}
	return result, nil
}

// FetchMetrics returns engagement counts for a published media
func (p *Publisher) FetchMetrics(ctx context.Context, remoteID string, creds publisher.Credentials) (*entity.AckMetrics, error) {
	insights, err := p.client.GetMediaInsights(ctx, remoteID, creds.AccessToken)
	if err != nil {
		return nil, p.classify(err)
	}
	return &entity.AckMetrics{
		Likes:     insights.LikeCount,
		Comments:  insights.CommentsCount,
		Source:    "poll",
		FetchedAt: time.Now().UTC(),
	}, nil
}

const (
	containerPollInterval = 5 * time.Second
	containerMaxAttempts  = 12
)

// waitForContainer polls until the container finishes processing
func (p *Publisher) waitForContainer(ctx context.Context, containerID, accessToken string) error {
	for i := 0; i < containerMaxAttempts; i++ {
		status, err := p.client.GetContainerStatus(ctx, containerID, accessToken)
		if err != nil {
			return p.classify(err)
		}
		switch status.Status {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR":
			return &entity.ContentPolicyError{Platform: entity.PlatformInstagram, Reason: status.ErrorMessage}
		case "EXPIRED":
			return &entity.TransientPublishError{Platform: entity.PlatformInstagram, Reason: "media container expired"}
		}

		select {
		case <-ctx.Done():
			return &entity.TransientPublishError{Platform: entity.PlatformInstagram, Reason: ctx.Err().Error()}
		case <-time.After(containerPollInterval):
		}
	}
	return &entity.TransientPublishError{Platform: entity.PlatformInstagram, Reason: "media container never became ready"}
}

// classify maps Instagram API errors onto the error taxonomy. Graph error
// code 190 means an invalid or expired token.
func (p *Publisher) classify(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return &entity.TransientPublishError{Platform: entity.PlatformInstagram, Reason: err.Error()}
	}
	if apiErr.Code == 190 {
		return &entity.AuthenticationError{Platform: entity.PlatformInstagram, Reason: apiErr.Message}
	}
	return publisher.ClassifyStatus(entity.PlatformInstagram, apiErr.HTTPStatus, fmt.Sprintf("%s (code %d)", apiErr.Message, apiErr.Code))
}
