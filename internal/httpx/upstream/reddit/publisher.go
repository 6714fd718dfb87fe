package reddit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
	"github.com/sevendev/crosspost/internal/publisher"
)

// Publisher implements the platform publishing contract for Reddit. The
// submit endpoint carries no idempotency token; replays rely entirely on the
// coordinator's attempt records.
type Publisher struct {
	client *Client
	// subreddit posted into when a request carries no explicit target;
	// resolved from the first mention of the form r/<name>
	defaultSubreddit string
}

// NewPublisher creates a Reddit publisher
func NewPublisher(client *Client, defaultSubreddit string) *Publisher {
	return &Publisher{client: client, defaultSubreddit: defaultSubreddit}
}

// Platform returns the platform this publisher serves
func (p *Publisher) Platform() entity.Platform {
	return entity.PlatformReddit
}

// Publish submits a post. The title is the first line of the caption, the
// remainder becomes the self text.
func (p *Publisher) Publish(ctx context.Context, in publisher.Input) (*entity.PublishResult, error) {
	title, text := splitCaption(in.Caption)

	out, err := p.client.Submit(ctx, SubmitInput{
		AccessToken: in.Credentials.AccessToken,
		Subreddit:   p.resolveSubreddit(in.Mentions),
		Title:       title,
		Text:        text,
		MediaURL:    in.MediaRef,
	})
	if err != nil {
		return nil, p.classify(err)
	}
	return &entity.PublishResult{
		RemoteID:    out.Name,
		RemoteURL:   out.URL,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// FetchMetrics returns score and comment counts for a submission
func (p *Publisher) FetchMetrics(ctx context.Context, remoteID string, creds publisher.Credentials) (*entity.AckMetrics, error) {
	info, err := p.client.GetPostInfo(ctx, creds.AccessToken, remoteID)
	if err != nil {
		return nil, p.classify(err)
	}
	return &entity.AckMetrics{
		Likes:     info.Score,
		Comments:  info.NumComments,
		Source:    "poll",
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (p *Publisher) resolveSubreddit(mentions []string) string {
	for _, m := range mentions {
		if name, ok := strings.CutPrefix(m, "r/"); ok {
			return name
		}
	}
	return p.defaultSubreddit
}

func splitCaption(caption string) (title, text string) {
	if idx := strings.IndexByte(caption, '\n'); idx >= 0 {
		return caption[:idx], strings.TrimSpace(caption[idx+1:])
	}
	return caption, ""
}

func (p *Publisher) classify(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return &entity.TransientPublishError{Platform: entity.PlatformReddit, Reason: err.Error()}
	}
	switch apiErr.Code {
	case "USER_REQUIRED", "INVALID_GRANT":
		return &entity.AuthenticationError{Platform: entity.PlatformReddit, Reason: apiErr.Message}
	case "SUBREDDIT_NOTALLOWED", "NO_SELFS", "NO_LINKS":
		return &entity.ContentPolicyError{Platform: entity.PlatformReddit, Reason: apiErr.Message}
	case "RATELIMIT":
		return &entity.TransientPublishError{Platform: entity.PlatformReddit, Status: 429, Reason: apiErr.Message}
	}
	return publisher.ClassifyStatus(entity.PlatformReddit, apiErr.HTTPStatus, apiErr.Message)
}
