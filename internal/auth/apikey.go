package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"trafi.io/internal/ids"
)

// APIKeyPrefix marks a bearer credential as an API key.
const APIKeyPrefix = "trafi_sk_"

const (
	apiKeyRandomBytes  = 32
	defaultTouchWindow = 5 * time.Second
)

var apiKeyPattern = regexp.MustCompile(`^trafi_sk_[0-9a-f]{64}$`)

// IsAPIKey reports whether bearer has the API key prefix.
func IsAPIKey(bearer string) bool {
	return strings.HasPrefix(bearer, APIKeyPrefix)
}

// APIKeyService generates, validates and revokes API keys.
type APIKeyService struct {
	store        APIKeyStore
	log          *zap.Logger
	now          func() time.Time
	touchTimeout time.Duration
	pending      sync.WaitGroup
}

// APIKeyOption configures APIKeyService.
type APIKeyOption func(*APIKeyService)

// WithAPIKeyClock overrides the time source.
func WithAPIKeyClock(fn func() time.Time) APIKeyOption {
	return func(s *APIKeyService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithAPIKeyLogger sets the logger for usage-stamp failures.
func WithAPIKeyLogger(l *zap.Logger) APIKeyOption {
	return func(s *APIKeyService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTouchTimeout bounds the background last_used_at update.
func WithTouchTimeout(d time.Duration) APIKeyOption {
	return func(s *APIKeyService) {
		if d > 0 {
			s.touchTimeout = d
		}
	}
}

// NewAPIKeyService constructs an APIKeyService.
func NewAPIKeyService(store APIKeyStore, opts ...APIKeyOption) *APIKeyService {
	s := &APIKeyService{
		store:        store,
		log:          zap.NewNop(),
		now:          time.Now,
		touchTimeout: defaultTouchWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues a new key for storeID. The plaintext is only in the result.
func (s *APIKeyService) Create(ctx context.Context, storeID, name string, scopes []Permission, expiresAt *time.Time) (CreatedAPIKey, error) {
	storeID = strings.TrimSpace(storeID)
	name = strings.TrimSpace(name)
	if storeID == "" {
		return CreatedAPIKey{}, fmt.Errorf("%w: store id is required", ErrInvalidInput)
	}
	if name == "" {
		return CreatedAPIKey{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	scopes = dedupePermissions(scopes)
	for _, scope := range scopes {
		if !scope.Valid() {
			return CreatedAPIKey{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, scope)
		}
	}
	now := s.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return CreatedAPIKey{}, fmt.Errorf("%w: expiresAt must be in the future", ErrInvalidInput)
	}

	raw := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(raw); err != nil {
		return CreatedAPIKey{}, fmt.Errorf("generate api key: %w", err)
	}
	body := hex.EncodeToString(raw)
	plaintext := APIKeyPrefix + body

	key := APIKey{
		ID:            ids.New(),
		StoreID:       storeID,
		Name:          name,
		KeyHash:       hashToken(plaintext),
		KeyPrefix:     APIKeyPrefix + body[:8],
		LastFourChars: body[len(body)-4:],
		Scopes:        scopes,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return CreatedAPIKey{}, err
	}
	key.KeyHash = ""
	return CreatedAPIKey{APIKey: key, Key: plaintext}, nil
}

// Validate resolves a plaintext key. On success last_used_at is stamped in the
// background; a failed stamp is logged and never fails the caller.
func (s *APIKeyService) Validate(ctx context.Context, plaintext string) (APIKey, error) {
	if !apiKeyPattern.MatchString(plaintext) {
		return APIKey{}, ErrInvalidAPIKey
	}
	key, err := s.store.FindAPIKeyByHash(ctx, hashToken(plaintext))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return APIKey{}, ErrInvalidAPIKey
		}
		return APIKey{}, err
	}
	now := s.now().UTC()
	if key.RevokedAt != nil {
		return APIKey{}, ErrAPIKeyRevoked
	}
	if key.ExpiresAt != nil && !now.Before(*key.ExpiresAt) {
		return APIKey{}, ErrAPIKeyExpired
	}

	s.pending.Add(1)
	go s.touch(context.WithoutCancel(ctx), key.ID, now)

	key.KeyHash = ""
	return key, nil
}

func (s *APIKeyService) touch(ctx context.Context, id string, at time.Time) {
	defer s.pending.Done()
	ctx, cancel := context.WithTimeout(ctx, s.touchTimeout)
	defer cancel()
	if err := s.store.TouchAPIKey(ctx, id, at); err != nil {
		s.log.Warn("api key usage stamp failed", zap.String("api_key_id", id), zap.Error(err))
	}
}

// Wait blocks until in-flight usage stamps finish.
func (s *APIKeyService) Wait() { s.pending.Wait() }

// List returns the keys of storeID without hashes.
func (s *APIKeyService) List(ctx context.Context, storeID string) ([]APIKey, error) {
	keys, err := s.store.ListAPIKeys(ctx, storeID)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i].KeyHash = ""
	}
	return keys, nil
}

// Get returns one key of storeID without its hash.
func (s *APIKeyService) Get(ctx context.Context, storeID, id string) (APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, storeID, id)
	if err != nil {
		return APIKey{}, err
	}
	key.KeyHash = ""
	return key, nil
}

// Revoke marks a key revoked. Revoking twice keeps the first timestamp.
func (s *APIKeyService) Revoke(ctx context.Context, storeID, id string) error {
	return s.store.RevokeAPIKey(ctx, storeID, id, s.now().UTC())
}

func dedupePermissions(perms []Permission) []Permission {
	if len(perms) == 0 {
		return []Permission{}
	}
	seen := make(map[Permission]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		p = Permission(strings.TrimSpace(strings.ToLower(string(p))))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
