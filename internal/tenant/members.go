package tenant

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"trafi.io/internal/auth"
	"trafi.io/internal/ids"
)

// MemberStore persists the users of a store. Every call names the store.
// UpdateUserRole and UpdateUserStatus must check and write in one atomic
// step: a change that would leave the store without an ACTIVE OWNER fails
// with auth.ErrLastOwner and changes nothing.
type MemberStore interface {
	ListUsers(ctx context.Context, storeID string) ([]auth.User, error)
	GetUser(ctx context.Context, storeID, id string) (auth.User, error)
	CreateUser(ctx context.Context, u auth.User) error
	UpdateUserRole(ctx context.Context, storeID, id string, role auth.Role, at time.Time) error
	UpdateUserStatus(ctx context.Context, storeID, id string, status auth.UserStatus, at time.Time) error
	CountActiveOwners(ctx context.Context, storeID string) (int, error)
}

// InviteInput describes a new team member. Without a password the user is
// created INVITED and cannot sign in yet.
type InviteInput struct {
	Email    string
	Role     auth.Role
	Password string
}

// Members manages the team of the current store under the role hierarchy.
type Members struct {
	store MemberStore
	hash  func(string) (string, error)
	now   func() time.Time
	log   *zap.Logger
}

// MembersOption configures Members.
type MembersOption func(*Members)

// WithPasswordHasher replaces the bcrypt hasher.
func WithPasswordHasher(fn func(string) (string, error)) MembersOption {
	return func(m *Members) {
		if fn != nil {
			m.hash = fn
		}
	}
}

// WithMembersClock overrides the time source.
func WithMembersClock(fn func() time.Time) MembersOption {
	return func(m *Members) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithMembersLogger sets the logger for membership changes.
func WithMembersLogger(l *zap.Logger) MembersOption {
	return func(m *Members) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMembers constructs Members over store.
func NewMembers(store MemberStore, opts ...MembersOption) *Members {
	m := &Members{
		store: store,
		hash:  auth.HashPassword,
		now:   time.Now,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func caller(ctx context.Context) (auth.RequestContext, error) {
	rc, err := auth.RequireCurrent(ctx)
	if err != nil {
		return auth.RequestContext{}, err
	}
	if rc.Kind == auth.PrincipalAPIKey || !rc.Role.Valid() {
		return auth.RequestContext{}, &auth.ForbiddenError{Reason: "team management requires a user session", ActualRole: rc.Role}
	}
	return rc, nil
}

// List returns the users of the current store.
func (m *Members) List(ctx context.Context) ([]auth.User, error) {
	tenantID, err := ResolveTenant(ctx, "")
	if err != nil {
		return nil, err
	}
	return m.store.ListUsers(ctx, tenantID)
}

// Get returns one user of the current store.
func (m *Members) Get(ctx context.Context, id string) (auth.User, error) {
	tenantID, err := ResolveTenant(ctx, "")
	if err != nil {
		return auth.User{}, err
	}
	u, err := m.store.GetUser(ctx, tenantID, strings.TrimSpace(id))
	if err != nil {
		return auth.User{}, err
	}
	if err := ValidateOwnership(ctx, u); err != nil {
		return auth.User{}, err
	}
	return u, nil
}

// Invite adds a user to the current store. The granted role may not exceed
// the caller's. A duplicate email fails with auth.ErrConflict.
func (m *Members) Invite(ctx context.Context, in InviteInput) (auth.User, error) {
	rc, err := caller(ctx)
	if err != nil {
		return auth.User{}, err
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return auth.User{}, fmt.Errorf("%w: a valid email is required", auth.ErrInvalidInput)
	}
	if !in.Role.Valid() {
		return auth.User{}, fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, in.Role)
	}
	if !auth.CanGrant(rc.Role, in.Role) {
		return auth.User{}, &auth.ForbiddenError{Reason: "cannot grant a role above your own", ActualRole: rc.Role}
	}

	now := m.now().UTC()
	u := auth.User{
		ID:        ids.New(),
		Email:     email,
		Role:      in.Role,
		StoreID:   rc.TenantID,
		Status:    auth.StatusInvited,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Password != "" {
		hash, err := m.hash(in.Password)
		if err != nil {
			return auth.User{}, fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = hash
		u.Status = auth.StatusActive
	}
	if err := m.store.CreateUser(ctx, u); err != nil {
		return auth.User{}, err
	}
	m.log.Info("team member invited",
		zap.String("store_id", rc.TenantID),
		zap.String("user_id", u.ID),
		zap.String("role", string(u.Role)),
		zap.String("invited_by", rc.UserID),
	)
	return u, nil
}

// ChangeRole moves a user of the current store to role.
func (m *Members) ChangeRole(ctx context.Context, id string, role auth.Role) (auth.User, error) {
	rc, err := caller(ctx)
	if err != nil {
		return auth.User{}, err
	}
	if !role.Valid() {
		return auth.User{}, fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, role)
	}
	id = strings.TrimSpace(id)
	if id == rc.UserID {
		return auth.User{}, fmt.Errorf("%w: cannot change your own role", auth.ErrBadRequest)
	}
	target, err := m.Get(ctx, id)
	if err != nil {
		return auth.User{}, err
	}
	if !auth.CanManage(rc.Role, target.Role) {
		return auth.User{}, &auth.ForbiddenError{Reason: "target role is not below your own", ActualRole: rc.Role}
	}
	if !auth.CanGrant(rc.Role, role) {
		return auth.User{}, &auth.ForbiddenError{Reason: "cannot grant a role above your own", ActualRole: rc.Role}
	}
	if target.Role == role {
		return target, nil
	}
	if target.Role == auth.RoleOwner && target.Status == auth.StatusActive {
		if err := m.ensureAnotherOwner(ctx, rc.TenantID); err != nil {
			return auth.User{}, err
		}
	}
	now := m.now().UTC()
	if err := m.store.UpdateUserRole(ctx, rc.TenantID, target.ID, role, now); err != nil {
		return auth.User{}, err
	}
	m.log.Info("team member role changed",
		zap.String("store_id", rc.TenantID),
		zap.String("user_id", target.ID),
		zap.String("from", string(target.Role)),
		zap.String("to", string(role)),
	)
	target.Role = role
	target.UpdatedAt = now
	return target, nil
}

// Deactivate blocks a user of the current store from signing in. The last
// ACTIVE OWNER of a store can never be deactivated.
func (m *Members) Deactivate(ctx context.Context, id string) (auth.User, error) {
	rc, err := caller(ctx)
	if err != nil {
		return auth.User{}, err
	}
	id = strings.TrimSpace(id)
	if id == rc.UserID {
		return auth.User{}, fmt.Errorf("%w: cannot deactivate yourself", auth.ErrBadRequest)
	}
	target, err := m.Get(ctx, id)
	if err != nil {
		return auth.User{}, err
	}
	if target.Role == auth.RoleOwner && target.Status == auth.StatusActive {
		if err := m.ensureAnotherOwner(ctx, rc.TenantID); err != nil {
			return auth.User{}, err
		}
	}
	if !auth.CanManage(rc.Role, target.Role) {
		return auth.User{}, &auth.ForbiddenError{Reason: "target role is not below your own", ActualRole: rc.Role}
	}
	if target.Status == auth.StatusInactive {
		return target, nil
	}
	now := m.now().UTC()
	if err := m.store.UpdateUserStatus(ctx, rc.TenantID, target.ID, auth.StatusInactive, now); err != nil {
		return auth.User{}, err
	}
	m.log.Info("team member deactivated",
		zap.String("store_id", rc.TenantID),
		zap.String("user_id", target.ID),
		zap.String("by", rc.UserID),
	)
	target.Status = auth.StatusInactive
	target.UpdatedAt = now
	return target, nil
}

// ensureAnotherOwner rejects early, before the hierarchy checks, so the last
// owner answers ErrBadRequest to every caller. The store write re-checks
// atomically.
func (m *Members) ensureAnotherOwner(ctx context.Context, storeID string) error {
	owners, err := m.store.CountActiveOwners(ctx, storeID)
	if err != nil {
		return err
	}
	if owners <= 1 {
		return auth.ErrLastOwner
	}
	return nil
}
