package auth

import (
	"context"
	"time"
)

// UserStore is the persistence the credential engine needs for users.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id string) (User, error)
	// RecordLogin stamps last_login_at and overwrites the stored refresh hash.
	RecordLogin(ctx context.Context, userID, refreshHash string, at time.Time) error
	// RotateRefreshToken swaps oldHash for newHash in one atomic step and
	// reports whether the swap happened.
	RotateRefreshToken(ctx context.Context, userID, oldHash, newHash string) (bool, error)
	ClearRefreshToken(ctx context.Context, userID string) error
}

// APIKeyStore persists API keys. Every call except hash lookup and usage
// stamping is scoped by store id.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key APIKey) error
	FindAPIKeyByHash(ctx context.Context, hash string) (APIKey, error)
	ListAPIKeys(ctx context.Context, storeID string) ([]APIKey, error)
	GetAPIKey(ctx context.Context, storeID, id string) (APIKey, error)
	RevokeAPIKey(ctx context.Context, storeID, id string, at time.Time) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}
