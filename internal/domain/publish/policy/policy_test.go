package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

type fakeMedia struct {
	score float64
	kind  entity.MediaKind
	found bool
	err   error
}

func (f fakeMedia) Inspect(context.Context, string) (float64, entity.MediaKind, bool, error) {
	return f.score, f.kind, f.found, f.err
}

type fakeTiers struct {
	premium bool
	err     error
}

func (f fakeTiers) IsPremium(context.Context, string) (bool, error) {
	return f.premium, f.err
}

func newValidator(media fakeMedia, tiers fakeTiers) *Validator {
	return New(DefaultLimits(), media, tiers)
}

func request(platform entity.Platform, caption string) *entity.PublishRequest {
	return &entity.PublishRequest{
		Platform:       platform,
		AccountID:      "acc-1",
		TokenID:        "tok-1",
		Caption:        caption,
		PostID:         "post-1",
		CreatorID:      "creator-1",
		IdempotencyKey: "idem-1",
	}
}

func TestInstagramCaptionTooLong(t *testing.T) {
	v := newValidator(fakeMedia{}, fakeTiers{})

	res, err := v.Check(context.Background(), request(entity.PlatformInstagram, strings.Repeat("a", 2300)))
	require.NoError(t, err)

	require.False(t, res.Passed)
	require.Len(t, res.Violations, 1)
	require.Equal(t, "caption", res.Violations[0].Field)
	require.Equal(t, entity.SeverityError, res.Violations[0].Severity)
}

func TestInstagramCaptionAtLimit(t *testing.T) {
	v := newValidator(fakeMedia{}, fakeTiers{})

	res, err := v.Check(context.Background(), request(entity.PlatformInstagram, strings.Repeat("a", 2200)))
	require.NoError(t, err)
	require.True(t, res.Passed)
	require.Empty(t, res.Violations)
}

func TestInstagramRuneCountedCaption(t *testing.T) {
	v := newValidator(fakeMedia{}, fakeTiers{})

	// 2200 multibyte runes must pass, byte length does not matter.
	res, err := v.Check(context.Background(), request(entity.PlatformInstagram, strings.Repeat("ё", 2200)))
	require.NoError(t, err)
	require.True(t, res.Passed)
}

func TestInstagramTooManyHashtags(t *testing.T) {
	v := newValidator(fakeMedia{}, fakeTiers{})

	req := request(entity.PlatformInstagram, "ok")
	for i := 0; i < 31; i++ {
		req.Hashtags = append(req.Hashtags, "tag")
	}

	res, err := v.Check(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.Passed)
	require.Equal(t, "hashtags", res.Violations[0].Field)
}

func TestTikTokPhotoAllowsLongerCaption(t *testing.T) {
	caption := strings.Repeat("a", 3000)

	// Video media: 2200 limit applies.
	v := newValidator(fakeMedia{kind: entity.MediaKindVideo, found: true}, fakeTiers{})
	req := request(entity.PlatformTikTok, caption)
	req.MediaRef = "bucket/video.mp4"
	res, err := v.Check(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.Passed)

	// Photo media: 4000 limit applies, same caption passes.
	v = newValidator(fakeMedia{kind: entity.MediaKindImage, found: true}, fakeTiers{})
	req = request(entity.PlatformTikTok, caption)
	req.MediaRef = "bucket/photo.png"
	res, err = v.Check(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Passed)
}

func TestXTierDependentLimit(t *testing.T) {
	caption := strings.Repeat("a", 500)

	v := newValidator(fakeMedia{}, fakeTiers{premium: false})
	res, err := v.Check(context.Background(), request(entity.PlatformX, caption))
	require.NoError(t, err)
	require.False(t, res.Passed)

	v = newValidator(fakeMedia{}, fakeTiers{premium: true})
	res, err = v.Check(context.Background(), request(entity.PlatformX, caption))
	require.NoError(t, err)
	require.True(t, res.Passed)
}

func TestRedditTitleIsFirstLine(t *testing.T) {
	v := newValidator(fakeMedia{}, fakeTiers{})

	// Long caption, short first line: passes.
	caption := "short title\n" + strings.Repeat("b", 5000)
	res, err := v.Check(context.Background(), request(entity.PlatformReddit, caption))
	require.NoError(t, err)
	require.True(t, res.Passed)

	// First line over 300: violation on title.
	caption = strings.Repeat("t", 301) + "\nbody"
	res, err = v.Check(context.Background(), request(entity.PlatformReddit, caption))
	require.NoError(t, err)
	require.False(t, res.Passed)
	require.Equal(t, "title", res.Violations[0].Field)
}

func TestNSFWMediaBlocked(t *testing.T) {
	v := newValidator(fakeMedia{score: 0.9, found: true}, fakeTiers{})

	req := request(entity.PlatformInstagram, "ok")
	req.MediaRef = "bucket/racy.png"
	res, err := v.Check(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.Passed)
	require.Equal(t, "media_ref", res.Violations[0].Field)
}

func TestNSFWScoreAtThresholdPasses(t *testing.T) {
	v := newValidator(fakeMedia{score: 0.7, found: true}, fakeTiers{})

	req := request(entity.PlatformInstagram, "ok")
	req.MediaRef = "bucket/fine.png"
	res, err := v.Check(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Passed)
}

func TestMissingMediaMetadataWarns(t *testing.T) {
	v := newValidator(fakeMedia{found: false}, fakeTiers{})

	req := request(entity.PlatformInstagram, "ok")
	req.MediaRef = "bucket/unscored.png"
	res, err := v.Check(context.Background(), req)
	require.NoError(t, err)

	// Missing metadata never blocks.
	require.True(t, res.Passed)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, entity.SeverityWarning, res.Warnings[0].Severity)
}

func TestPassedMatchesViolations(t *testing.T) {
	var res entity.PolicyCheckResult
	res.Passed = true
	res.AddWarning("x", "informational")
	require.True(t, res.Passed)

	res.AddViolation("x", "blocking")
	require.False(t, res.Passed)
	require.Len(t, res.Violations, 1)
}
