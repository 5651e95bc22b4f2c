package tenant

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"trafi.io/internal/auth"
)

type fakeProvisioner struct {
	*fakeMembers
	stores map[string]string
}

func (f *fakeProvisioner) CreateStore(_ context.Context, id, name string) error {
	f.stores[id] = name
	return nil
}

func TestBootstrapCreatesActiveOwner(t *testing.T) {
	p := &fakeProvisioner{fakeMembers: newFakeMembers(), stores: map[string]string{}}
	storeID, owner, err := Bootstrap(context.Background(), p, BootstrapInput{
		StoreName:    "Acme",
		Email:        " Founder@Acme.test ",
		Password:     "correct horse",
		PasswordCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if p.stores[storeID] != "Acme" {
		t.Fatalf("store not created: %v", p.stores)
	}
	if owner.Role != auth.RoleOwner || owner.Status != auth.StatusActive || owner.StoreID != storeID {
		t.Fatalf("unexpected owner: %+v", owner)
	}
	if owner.Email != "founder@acme.test" {
		t.Fatalf("email not normalized: %q", owner.Email)
	}
	if !auth.VerifyPassword("correct horse", owner.PasswordHash) {
		t.Fatal("password hash does not verify")
	}
	if n, _ := p.CountActiveOwners(context.Background(), storeID); n != 1 {
		t.Fatalf("expected one owner, got %d", n)
	}
}

func TestBootstrapValidatesInput(t *testing.T) {
	p := &fakeProvisioner{fakeMembers: newFakeMembers(), stores: map[string]string{}}
	cases := []BootstrapInput{
		{Email: "a@b.test", Password: "longenough"},
		{StoreName: "x", Email: "nope", Password: "longenough"},
		{StoreName: "x", Email: "a@b.test", Password: "short"},
	}
	for _, in := range cases {
		if _, _, err := Bootstrap(context.Background(), p, in); !errors.Is(err, auth.ErrInvalidInput) {
			t.Fatalf("Bootstrap(%+v): expected invalid input, got %v", in, err)
		}
	}
	if len(p.stores) != 0 {
		t.Fatal("invalid input must not create a store")
	}
}
