package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

// MediaIntel defines the interface for read-only media metadata lookups.
// Interface is defined here (consumer) not in the storage package (provider).
type MediaIntel interface {
	// Inspect returns the NSFW score [0,1] and media kind for a media
	// reference. found is false when no metadata exists for the reference.
	Inspect(ctx context.Context, mediaRef string) (score float64, kind entity.MediaKind, found bool, err error)
}

// AccountTiers resolves the subscription tier of an account, used by
// platforms whose limits depend on it
type AccountTiers interface {
	IsPremium(ctx context.Context, accountID string) (bool, error)
}

// Limits holds the per-platform numeric rules. Explicit configuration, not
// hard-coded at call sites, so tests can override them.
type Limits struct {
	InstagramCaptionMax   int
	InstagramHashtagsMax  int
	TikTokVideoCaptionMax int
	TikTokPhotoCaptionMax int
	XCaptionMax           int
	XPremiumCaptionMax    int
	RedditTitleMax        int
	NSFWThreshold         float64
}

// DefaultLimits returns the platform rules as published by each provider
func DefaultLimits() Limits {
	return Limits{
		InstagramCaptionMax:   2200,
		InstagramHashtagsMax:  30,
		TikTokVideoCaptionMax: 2200,
		TikTokPhotoCaptionMax: 4000,
		XCaptionMax:           280,
		XPremiumCaptionMax:    25000,
		RedditTitleMax:        300,
		NSFWThreshold:         0.7,
	}
}

// Validator performs the pre-publish policy gate. Stateless apart from
// read-only lookups; a failed check is terminal and non-retryable.
type Validator struct {
	limits Limits
	media  MediaIntel
	tiers  AccountTiers
}

// New creates a policy validator
func New(limits Limits, media MediaIntel, tiers AccountTiers) *Validator {
	return &Validator{limits: limits, media: media, tiers: tiers}
}

// Check validates a publish request against its platform's rules.
// The result is deterministic for a given request and media state.
func (v *Validator) Check(ctx context.Context, req *entity.PublishRequest) (entity.PolicyCheckResult, error) {
	res := entity.PolicyCheckResult{Passed: true}

	switch req.Platform {
	case entity.PlatformInstagram:
		v.checkInstagram(req, &res)
	case entity.PlatformTikTok:
		if err := v.checkTikTok(ctx, req, &res); err != nil {
			return res, err
		}
	case entity.PlatformX:
		if err := v.checkX(ctx, req, &res); err != nil {
			return res, err
		}
	case entity.PlatformReddit:
		v.checkReddit(req, &res)
	default:
		res.AddViolation("platform", "unknown platform")
	}

	if err := v.checkMedia(ctx, req, &res); err != nil {
		return res, err
	}

	return res, nil
}

func (v *Validator) checkInstagram(req *entity.PublishRequest, res *entity.PolicyCheckResult) {
	if n := len([]rune(req.Caption)); n > v.limits.InstagramCaptionMax {
		res.AddViolation("caption", fmt.Sprintf("caption is %d characters, instagram allows at most %d", n, v.limits.InstagramCaptionMax))
	}
	if len(req.Hashtags) > v.limits.InstagramHashtagsMax {
		res.AddViolation("hashtags", fmt.Sprintf("%d hashtags, instagram allows at most %d", len(req.Hashtags), v.limits.InstagramHashtagsMax))
	}
}

// checkTikTok applies the caption limit that matches the media type: photo
// posts allow longer captions than video posts.
func (v *Validator) checkTikTok(ctx context.Context, req *entity.PublishRequest, res *entity.PolicyCheckResult) error {
	limit := v.limits.TikTokVideoCaptionMax
	if req.MediaRef != "" {
		_, kind, found, err := v.media.Inspect(ctx, req.MediaRef)
		if err != nil {
			return fmt.Errorf("inspecting media: %w", err)
		}
		if found && kind == entity.MediaKindImage {
			limit = v.limits.TikTokPhotoCaptionMax
		}
	}
	if n := len([]rune(req.Caption)); n > limit {
		res.AddViolation("caption", fmt.Sprintf("caption is %d characters, tiktok allows at most %d for this media type", n, limit))
	}
	return nil
}

func (v *Validator) checkX(ctx context.Context, req *entity.PublishRequest, res *entity.PolicyCheckResult) error {
	limit := v.limits.XCaptionMax
	premium, err := v.tiers.IsPremium(ctx, req.AccountID)
	if err != nil {
		return fmt.Errorf("resolving account tier: %w", err)
	}
	if premium {
		limit = v.limits.XPremiumCaptionMax
	}
	if n := len([]rune(req.Caption)); n > limit {
		res.AddViolation("caption", fmt.Sprintf("caption is %d characters, x allows at most %d for this account tier", n, limit))
	}
	return nil
}

// checkReddit validates the title, taken as the first line of the caption
func (v *Validator) checkReddit(req *entity.PublishRequest, res *entity.PolicyCheckResult) {
	title := req.Caption
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if n := len([]rune(title)); n > v.limits.RedditTitleMax {
		res.AddViolation("title", fmt.Sprintf("title is %d characters, reddit allows at most %d", n, v.limits.RedditTitleMax))
	}
}

// checkMedia applies the platform-independent NSFW gate. Missing media
// metadata produces a warning, not a violation, since scoring may lag the
// upload.
func (v *Validator) checkMedia(ctx context.Context, req *entity.PublishRequest, res *entity.PolicyCheckResult) error {
	if req.MediaRef == "" {
		return nil
	}
	score, _, found, err := v.media.Inspect(ctx, req.MediaRef)
	if err != nil {
		return fmt.Errorf("inspecting media: %w", err)
	}
	if !found {
		res.AddWarning("media_ref", "no metadata recorded for referenced media")
		return nil
	}
	if score > v.limits.NSFWThreshold {
		res.AddViolation("media_ref", fmt.Sprintf("NSFW score %.2f exceeds threshold %.2f", score, v.limits.NSFWThreshold))
	}
	return nil
}
