package auth

import "time"

// Role is a tenant-scoped access level.
type Role string

const (
	RoleViewer Role = "VIEWER"
	RoleEditor Role = "EDITOR"
	RoleAdmin  Role = "ADMIN"
	RoleOwner  Role = "OWNER"
)

// Permission is a capability in "resource:action" form.
type Permission string

// UserStatus describes whether a user may sign in.
type UserStatus string

const (
	StatusActive   UserStatus = "ACTIVE"
	StatusInactive UserStatus = "INACTIVE"
	StatusInvited  UserStatus = "INVITED"
)

// User is a human account that belongs to exactly one store.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	Role             Role       `json:"role"`
	StoreID          string     `json:"storeId"`
	Status           UserStatus `json:"status"`
	RefreshTokenHash string     `json:"-"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// OwnerTenantID reports the store the user belongs to.
func (u User) OwnerTenantID() string { return u.StoreID }

// APIKey is the persisted form of a machine credential. The plaintext key is
// never stored.
type APIKey struct {
	ID            string       `json:"id"`
	StoreID       string       `json:"storeId"`
	Name          string       `json:"name"`
	KeyHash       string       `json:"-"`
	KeyPrefix     string       `json:"keyPrefix"`
	LastFourChars string       `json:"lastFourChars"`
	Scopes        []Permission `json:"scopes"`
	ExpiresAt     *time.Time   `json:"expiresAt,omitempty"`
	RevokedAt     *time.Time   `json:"revokedAt,omitempty"`
	LastUsedAt    *time.Time   `json:"lastUsedAt,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// OwnerTenantID reports the store the key belongs to.
func (k APIKey) OwnerTenantID() string { return k.StoreID }

// CreatedAPIKey carries the plaintext key. It is returned once, at creation.
type CreatedAPIKey struct {
	APIKey
	Key string `json:"key"`
}

// PrincipalKind tells session principals apart from API keys.
type PrincipalKind string

const (
	PrincipalUser   PrincipalKind = "user"
	PrincipalAPIKey PrincipalKind = "api_key"
)

// Principal is the verified actor behind a request.
type Principal struct {
	Kind        PrincipalKind
	UserID      string
	APIKeyID    string
	TenantID    string
	Role        Role
	Permissions []Permission
	Scopes      []Permission
}

// RequestContext is the tenant, actor and role bound to one request.
type RequestContext struct {
	TenantID  string        `json:"tenantId"`
	UserID    string        `json:"userId"`
	Role      Role          `json:"role,omitempty"`
	RequestID string        `json:"requestId"`
	Kind      PrincipalKind `json:"kind"`
	Scopes    []Permission  `json:"scopes,omitempty"`
}

func (rc RequestContext) clone() RequestContext {
	if rc.Scopes != nil {
		rc.Scopes = append([]Permission(nil), rc.Scopes...)
	}
	return rc
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}
