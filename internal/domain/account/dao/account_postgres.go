package dao

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Credential holds the platform access material stored for a token reference
type Credential struct {
	AccessToken string
	UserID      string
}

// AccountPostgres reads account credentials and tier from PostgreSQL
type AccountPostgres struct {
	pool *pgxpool.Pool
}

// NewAccountPostgres creates a new PostgreSQL account repository
func NewAccountPostgres(pool *pgxpool.Pool) *AccountPostgres {
	return &AccountPostgres{pool: pool}
}

// GetCredential retrieves the most recent access material for a token reference
func (r *AccountPostgres) GetCredential(ctx context.Context, tokenID string) (Credential, error) {
	query := `
		SELECT access_token, platform_user_id
		FROM account_tokens
		WHERE id = $1 AND revoked_at IS NULL
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var cred Credential
	err := r.pool.QueryRow(ctx, query, tokenID).Scan(&cred.AccessToken, &cred.UserID)
	if err == pgx.ErrNoRows {
		return Credential{}, fmt.Errorf("no access token found for token %s", tokenID)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("querying access token: %w", err)
	}
	return cred, nil
}

// GetTier retrieves the subscription tier for an account
func (r *AccountPostgres) GetTier(ctx context.Context, accountID string) (string, error) {
	query := `
		SELECT tier
		FROM accounts
		WHERE id = $1 AND deleted_at IS NULL
	`

	var tier string
	err := r.pool.QueryRow(ctx, query, accountID).Scan(&tier)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("account %s not found", accountID)
	}
	if err != nil {
		return "", fmt.Errorf("querying account tier: %w", err)
	}
	return tier, nil
}
