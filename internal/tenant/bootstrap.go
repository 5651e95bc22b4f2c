package tenant

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"trafi.io/internal/auth"
	"trafi.io/internal/ids"
)

// Provisioner creates a store and its first user.
type Provisioner interface {
	CreateStore(ctx context.Context, id, name string) error
	CreateUser(ctx context.Context, u auth.User) error
}

// BootstrapInput describes a new store and its owner.
type BootstrapInput struct {
	StoreName string
	Email     string
	Password  string
	// PasswordCost overrides the bcrypt cost; zero keeps auth.PasswordCost.
	PasswordCost int
}

// Bootstrap creates a store with one ACTIVE owner. It runs outside any
// request context and is meant for operators, not for HTTP callers.
func Bootstrap(ctx context.Context, p Provisioner, in BootstrapInput) (string, auth.User, error) {
	name := strings.TrimSpace(in.StoreName)
	if name == "" {
		return "", auth.User{}, fmt.Errorf("%w: store name is required", auth.ErrInvalidInput)
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return "", auth.User{}, fmt.Errorf("%w: a valid email is required", auth.ErrInvalidInput)
	}
	if len(in.Password) < 8 {
		return "", auth.User{}, fmt.Errorf("%w: password must be at least 8 characters", auth.ErrInvalidInput)
	}
	cost := in.PasswordCost
	if cost == 0 {
		cost = auth.PasswordCost
	}
	hash, err := auth.HashPasswordWithCost(in.Password, cost)
	if err != nil {
		return "", auth.User{}, err
	}

	storeID := ids.New()
	if err := p.CreateStore(ctx, storeID, name); err != nil {
		return "", auth.User{}, fmt.Errorf("create store: %w", err)
	}
	now := time.Now().UTC()
	owner := auth.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleOwner,
		StoreID:      storeID,
		Status:       auth.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.CreateUser(ctx, owner); err != nil {
		return "", auth.User{}, fmt.Errorf("create owner: %w", err)
	}
	return storeID, owner, nil
}
