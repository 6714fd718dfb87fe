package service

import (
	"context"
	"sync"
	"time"

	"github.com/sevendev/crosspost/internal/domain/account/dao"
	"github.com/sevendev/crosspost/internal/publisher"
)

// Repository defines the account lookups the service needs
type Repository interface {
	GetCredential(ctx context.Context, tokenID string) (dao.Credential, error)
	GetTier(ctx context.Context, accountID string) (string, error)
}

const tierPremium = "premium"

type cacheEntry struct {
	tier      string
	fetchedAt time.Time
}

// Service resolves platform credentials and account tier. Tier lookups are
// cached briefly since they gate every x-platform policy check.
type Service struct {
	repo     Repository
	cacheTTL time.Duration

	mu    sync.Mutex
	tiers map[string]cacheEntry
}

// New creates a new account service
func New(repo Repository, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Service{
		repo:     repo,
		cacheTTL: cacheTTL,
		tiers:    make(map[string]cacheEntry),
	}
}

// Credentials resolves the access material for a token reference
func (s *Service) Credentials(ctx context.Context, tokenID string) (publisher.Credentials, error) {
	cred, err := s.repo.GetCredential(ctx, tokenID)
	if err != nil {
		return publisher.Credentials{}, err
	}
	return publisher.Credentials{
		AccessToken: cred.AccessToken,
		UserID:      cred.UserID,
	}, nil
}

// IsPremium reports whether the account is on the premium tier
func (s *Service) IsPremium(ctx context.Context, accountID string) (bool, error) {
	s.mu.Lock()
	entry, ok := s.tiers[accountID]
	s.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < s.cacheTTL {
		return entry.tier == tierPremium, nil
	}

	tier, err := s.repo.GetTier(ctx, accountID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.tiers[accountID] = cacheEntry{tier: tier, fetchedAt: time.Now()}
	s.mu.Unlock()

	return tier == tierPremium, nil
}
