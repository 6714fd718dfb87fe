package publisher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

type stubPublisher struct{ platform entity.Platform }

func (s stubPublisher) Platform() entity.Platform { return s.platform }

func (s stubPublisher) Publish(context.Context, Input) (*entity.PublishResult, error) {
	return &entity.PublishResult{RemoteID: "rm"}, nil
}

func (s stubPublisher) FetchMetrics(context.Context, string, Credentials) (*entity.AckMetrics, error) {
	return nil, nil
}

func TestRegistryResolvesByPlatform(t *testing.T) {
	r := NewRegistry()
	r.Register(stubPublisher{platform: entity.PlatformInstagram})
	r.Register(stubPublisher{platform: entity.PlatformReddit})

	p, err := r.Get(entity.PlatformReddit)
	require.NoError(t, err)
	require.Equal(t, entity.PlatformReddit, p.Platform())

	_, err = r.Get(entity.PlatformTikTok)
	require.ErrorIs(t, err, entity.ErrPublisherNotFound)
}

func TestClassifyStatus(t *testing.T) {
	var authErr *entity.AuthenticationError
	require.ErrorAs(t, ClassifyStatus(entity.PlatformX, 401, "expired"), &authErr)
	require.ErrorAs(t, ClassifyStatus(entity.PlatformX, 403, "revoked"), &authErr)

	var contentErr *entity.ContentPolicyError
	require.ErrorAs(t, ClassifyStatus(entity.PlatformTikTok, 422, "rejected"), &contentErr)

	for _, status := range []int{429, 500, 502, 503} {
		err := ClassifyStatus(entity.PlatformInstagram, status, "upstream")
		var transient *entity.TransientPublishError
		require.ErrorAs(t, err, &transient)
		require.True(t, entity.Retryable(err))
	}

	require.False(t, entity.Retryable(ClassifyStatus(entity.PlatformX, 401, "expired")))
	require.False(t, entity.Retryable(ClassifyStatus(entity.PlatformTikTok, 422, "rejected")))
}
