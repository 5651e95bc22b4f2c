package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// CredentialEngine is what the transport layer needs from authentication.
// *Service is the default implementation.
type CredentialEngine interface {
	Login(ctx context.Context, email, password string) (TokenPair, User, error)
	Refresh(ctx context.Context, refreshToken string) (TokenPair, User, error)
	Logout(ctx context.Context, userID string) error
	Authenticate(ctx context.Context, bearer string) (Principal, error)
}

// APIKeyValidator resolves a plaintext API key to its stored record.
type APIKeyValidator interface {
	Validate(ctx context.Context, key string) (APIKey, error)
}

// Service issues and rotates session credentials.
type Service struct {
	users  UserStore
	keys   APIKeyValidator
	tokens *TokenIssuer
	log    *zap.Logger

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

var _ CredentialEngine = (*Service)(nil)

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSigningSecret sets the HS256 key used for all tokens.
func WithSigningSecret(secret string) ServiceOption {
	return func(s *Service) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return errMissingSecret
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAPIKeys enables API key bearer credentials.
func WithAPIKeys(v APIKeyValidator) ServiceOption {
	return func(s *Service) error {
		s.keys = v
		return nil
	}
}

// WithLogger sets the logger used for credential events.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserStore, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	svc := &Service{
		users:      users,
		log:        zap.NewNop(),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	tokens, err := newTokenIssuer(svc.secret, svc.issuer, svc.accessTTL, svc.refreshTTL, svc.now)
	if err != nil {
		return nil, err
	}
	svc.tokens = tokens
	return svc, nil
}

// Login verifies email and password. Unknown email, wrong password and an
// account that is not ACTIVE all fail with ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, User, error) {
	email = normalizeEmail(email)
	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return TokenPair{}, User{}, fmt.Errorf("login: %w", err)
		}
		burnPasswordCheck(password)
		s.log.Debug("login rejected", zap.String("reason", "unknown_email"))
		return TokenPair{}, User{}, ErrInvalidCredentials
	}
	if !VerifyPassword(password, user.PasswordHash) {
		s.log.Debug("login rejected", zap.String("reason", "bad_password"), zap.String("user_id", user.ID))
		return TokenPair{}, User{}, ErrInvalidCredentials
	}
	if user.Status != StatusActive {
		s.log.Debug("login rejected", zap.String("reason", "inactive"), zap.String("user_id", user.ID))
		return TokenPair{}, User{}, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	now := s.now().UTC()
	if err := s.users.RecordLogin(ctx, user.ID, hashToken(pair.RefreshToken), now); err != nil {
		return TokenPair{}, User{}, fmt.Errorf("login: %w", err)
	}
	user.LastLoginAt = &now
	user.RefreshTokenHash = ""
	return pair, user, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// single use: rotation is a compare-and-swap on the stored hash, so of two
// concurrent calls with the same token at most one succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, User, error) {
	claims, err := s.tokens.Parse(refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, User{}, ErrInvalidRefreshToken
	}
	user, err := s.users.FindUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, User{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, User{}, fmt.Errorf("refresh: %w", err)
	}
	if user.Status != StatusActive || user.RefreshTokenHash == "" {
		return TokenPair{}, User{}, ErrInvalidRefreshToken
	}
	presented := hashToken(refreshToken)
	if !subtleCompare(user.RefreshTokenHash, presented) {
		return TokenPair{}, User{}, ErrInvalidRefreshToken
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	swapped, err := s.users.RotateRefreshToken(ctx, user.ID, presented, hashToken(pair.RefreshToken))
	if err != nil {
		return TokenPair{}, User{}, fmt.Errorf("refresh: %w", err)
	}
	if !swapped {
		s.log.Info("refresh token reuse rejected", zap.String("user_id", user.ID))
		return TokenPair{}, User{}, ErrInvalidRefreshToken
	}
	user.RefreshTokenHash = ""
	return pair, user, nil
}

// Logout drops the stored refresh hash. Calling it twice is harmless.
func (s *Service) Logout(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUnauthenticated
	}
	return s.users.ClearRefreshToken(ctx, userID)
}

// Authenticate resolves a bearer credential. API keys are recognized by their
// literal prefix before any signature check is attempted.
func (s *Service) Authenticate(ctx context.Context, bearer string) (Principal, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return Principal{}, ErrUnauthenticated
	}
	if IsAPIKey(bearer) {
		if s.keys == nil {
			return Principal{}, ErrInvalidAPIKey
		}
		key, err := s.keys.Validate(ctx, bearer)
		if err != nil {
			return Principal{}, err
		}
		return Principal{
			Kind:     PrincipalAPIKey,
			APIKeyID: key.ID,
			TenantID: key.StoreID,
			Scopes:   append([]Permission(nil), key.Scopes...),
		}, nil
	}
	claims, err := s.tokens.Parse(bearer, TokenTypeSession)
	if err != nil {
		return Principal{}, ErrUnauthenticated
	}
	return Principal{
		Kind:        PrincipalUser,
		UserID:      claims.Subject,
		TenantID:    claims.TenantID,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func subtleCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
