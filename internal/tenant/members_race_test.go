package tenant_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trafi.io/internal/auth"
	"trafi.io/internal/store/memory"
	"trafi.io/internal/tenant"
)

// pausingStore holds every caller after CountActiveOwners until all of them
// have counted, so both sides of a race see two owners.
type pausingStore struct {
	*memory.Store
	counted sync.WaitGroup
}

func (p *pausingStore) CountActiveOwners(ctx context.Context, storeID string) (int, error) {
	n, err := p.Store.CountActiveOwners(ctx, storeID)
	p.counted.Done()
	p.counted.Wait()
	return n, err
}

func twoOwners(t *testing.T) *pausingStore {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	if err := s.CreateStore(ctx, "s1", "Acme"); err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	for _, id := range []string{"o1", "o2"} {
		err := s.CreateUser(ctx, auth.User{
			ID: id, Email: id + "@acme.test", Role: auth.RoleOwner, StoreID: "s1",
			Status: auth.StatusActive, CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	p := &pausingStore{Store: s}
	p.counted.Add(2)
	return p
}

func ownerCtx(t *testing.T, id string) context.Context {
	t.Helper()
	ctx, err := auth.WithRequestContext(context.Background(), auth.RequestContext{
		TenantID: "s1", UserID: id, Role: auth.RoleOwner, Kind: auth.PrincipalUser,
	})
	if err != nil {
		t.Fatalf("WithRequestContext: %v", err)
	}
	return ctx
}

func TestOwnersRemovingEachOtherKeepOne(t *testing.T) {
	cases := []struct {
		name string
		op   func(m *tenant.Members, ctx context.Context, target string) error
	}{
		{"deactivate", func(m *tenant.Members, ctx context.Context, target string) error {
			_, err := m.Deactivate(ctx, target)
			return err
		}},
		{"demote", func(m *tenant.Members, ctx context.Context, target string) error {
			_, err := m.ChangeRole(ctx, target, auth.RoleAdmin)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := twoOwners(t)
			m := tenant.NewMembers(store)

			o1, o2 := ownerCtx(t, "o1"), ownerCtx(t, "o2")

			var wg sync.WaitGroup
			errs := make([]error, 2)
			wg.Add(2)
			go func() {
				defer wg.Done()
				errs[0] = tc.op(m, o1, "o2")
			}()
			go func() {
				defer wg.Done()
				errs[1] = tc.op(m, o2, "o1")
			}()
			wg.Wait()

			rejected := 0
			for _, err := range errs {
				switch {
				case err == nil:
				case errors.Is(err, auth.ErrBadRequest):
					rejected++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			n, _ := store.Store.CountActiveOwners(context.Background(), "s1")
			if rejected != 1 || n != 1 {
				t.Fatalf("errs=%v active owners left=%d", errs, n)
			}
		})
	}
}
