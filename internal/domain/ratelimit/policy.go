package ratelimit

import (
	"time"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

// Window represents one sliding rate window
type Window struct {
	Name  string
	Per   time.Duration
	Limit int
}

// Policy holds the per-platform window configuration. It is an explicit
// value passed to the ledger at construction so limits are overridable in
// tests, never read from ambient state.
type Policy map[entity.Platform][]Window

// DefaultPolicy returns the published platform rate contracts. Windows are
// ordered tightest first; the ledger checks them in order.
func DefaultPolicy() Policy {
	return Policy{
		entity.PlatformInstagram: {
			{Name: "hour", Per: time.Hour, Limit: 25},
			{Name: "day", Per: 24 * time.Hour, Limit: 100},
		},
		entity.PlatformTikTok: {
			{Name: "minute", Per: time.Minute, Limit: 6},
			{Name: "hour", Per: time.Hour, Limit: 300},
			{Name: "day", Per: 24 * time.Hour, Limit: 5000},
		},
		entity.PlatformX: {
			{Name: "hour", Per: time.Hour, Limit: 50},
			{Name: "day", Per: 24 * time.Hour, Limit: 300},
		},
		entity.PlatformReddit: {
			{Name: "hour", Per: time.Hour, Limit: 10},
			{Name: "day", Per: 24 * time.Hour, Limit: 100},
		},
	}
}

// maxWindow returns the widest window for a platform, used to trim stale
// usage entries
func (p Policy) maxWindow(platform entity.Platform) time.Duration {
	var max time.Duration
	for _, w := range p[platform] {
		if w.Per > max {
			max = w.Per
		}
	}
	return max
}
