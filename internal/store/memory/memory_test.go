package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trafi.io/internal/audit"
	"trafi.io/internal/auth"
	"trafi.io/internal/tenant"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := New()
	for _, id := range []string{"s1", "s2"} {
		if err := s.CreateStore(ctx, id, "store "+id); err != nil {
			t.Fatalf("CreateStore: %v", err)
		}
	}
	now := time.Now().UTC()
	users := []auth.User{
		{ID: "u1", Email: "owner@s1.test", Role: auth.RoleOwner, StoreID: "s1", Status: auth.StatusActive, CreatedAt: now},
		{ID: "u2", Email: "viewer@s1.test", Role: auth.RoleViewer, StoreID: "s1", Status: auth.StatusActive, CreatedAt: now.Add(time.Second)},
		{ID: "u3", Email: "owner@s2.test", Role: auth.RoleOwner, StoreID: "s2", Status: auth.StatusActive, CreatedAt: now},
	}
	for _, u := range users {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	return s
}

func TestUsersScopedByStore(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	if _, err := s.GetUser(ctx, "s2", "u1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found across stores, got %v", err)
	}
	list, err := s.ListUsers(ctx, "s1")
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(list) != 2 || list[0].ID != "u1" || list[1].ID != "u2" {
		t.Fatalf("unexpected users: %+v", list)
	}
	if err := s.CreateUser(ctx, auth.User{ID: "u9", Email: "OWNER@s1.test", StoreID: "s1"}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	if err := s.CreateUser(ctx, auth.User{ID: "u9", Email: "x@none.test", StoreID: "nope"}); !errors.Is(err, auth.ErrBadRequest) {
		t.Fatalf("expected unknown store rejection, got %v", err)
	}
	u, err := s.FindUserByEmail(ctx, "Viewer@S1.test")
	if err != nil || u.ID != "u2" {
		t.Fatalf("FindUserByEmail: %v %+v", err, u)
	}
	n, _ := s.CountActiveOwners(ctx, "s1")
	if n != 1 {
		t.Fatalf("expected one owner, got %d", n)
	}
}

func TestRotateRefreshTokenIsCompareAndSwap(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	if err := s.RecordLogin(ctx, "u1", "h0", time.Now()); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.RotateRefreshToken(ctx, "u1", "h0", "h1")
			if err != nil {
				t.Errorf("rotate: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one rotation, got %d", wins.Load())
	}
	if err := s.ClearRefreshToken(ctx, "u1"); err != nil {
		t.Fatalf("ClearRefreshToken: %v", err)
	}
	if ok, _ := s.RotateRefreshToken(ctx, "u1", "", "h2"); ok {
		t.Fatal("cleared token must not rotate")
	}
}

func TestDeactivationClearsRefreshToken(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	_ = s.RecordLogin(ctx, "u2", "h0", time.Now())
	if err := s.UpdateUserStatus(ctx, "s1", "u2", auth.StatusInactive, time.Now()); err != nil {
		t.Fatalf("UpdateUserStatus: %v", err)
	}
	u, _ := s.FindUserByID(ctx, "u2")
	if u.RefreshTokenHash != "" || u.Status != auth.StatusInactive {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := s.UpdateUserRole(ctx, "s2", "u2", auth.RoleAdmin, time.Now()); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found across stores, got %v", err)
	}
}

func TestAPIKeys(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	key := auth.APIKey{ID: "k1", StoreID: "s1", Name: "ci", KeyHash: "hash", Scopes: []auth.Permission{"products:read"}, CreatedAt: time.Now()}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if err := s.CreateAPIKey(ctx, auth.APIKey{ID: "k2", StoreID: "s1", KeyHash: "hash"}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected hash conflict, got %v", err)
	}

	got, err := s.FindAPIKeyByHash(ctx, "hash")
	if err != nil {
		t.Fatalf("FindAPIKeyByHash: %v", err)
	}
	got.Scopes[0] = "mutated"
	again, _ := s.GetAPIKey(ctx, "s1", "k1")
	if again.Scopes[0] != "products:read" {
		t.Fatal("store leaked internal slice")
	}

	if _, err := s.GetAPIKey(ctx, "s2", "k1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found across stores, got %v", err)
	}
	if err := s.RevokeAPIKey(ctx, "s2", "k1", time.Now()); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found across stores, got %v", err)
	}
	first := time.Now().Add(-time.Hour)
	_ = s.RevokeAPIKey(ctx, "s1", "k1", first)
	_ = s.RevokeAPIKey(ctx, "s1", "k1", time.Now())
	again, _ = s.GetAPIKey(ctx, "s1", "k1")
	if again.RevokedAt == nil || !again.RevokedAt.Equal(first.UTC()) {
		t.Fatalf("revocation should keep the first timestamp: %v", again.RevokedAt)
	}
	if err := s.TouchAPIKey(ctx, "k1", time.Now()); err != nil {
		t.Fatalf("TouchAPIKey: %v", err)
	}
	list, _ := s.ListAPIKeys(ctx, "s2")
	if len(list) != 0 {
		t.Fatalf("expected no keys for s2, got %d", len(list))
	}
}

func TestRecordsFilterByTenant(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	now := time.Now()
	_ = s.Create(ctx, "products", tenant.Record{ID: "p1", StoreID: "s1", Data: map[string]any{"sku": "A", "qty": float64(3)}, CreatedAt: now})
	_ = s.Create(ctx, "products", tenant.Record{ID: "p2", StoreID: "s2", Data: map[string]any{"sku": "A"}, CreatedAt: now})

	found, _ := s.Find(ctx, "products", tenant.Filter{TenantID: "s1", ID: "p2"})
	if len(found) != 0 {
		t.Fatal("Find returned another tenant's record")
	}
	found, _ = s.Find(ctx, "products", tenant.Filter{TenantID: "s1", Fields: map[string]string{"qty": "3"}})
	if len(found) != 1 || found[0].ID != "p1" {
		t.Fatalf("unexpected records: %+v", found)
	}
	if _, err := s.Update(ctx, "products", "s1", "p2", map[string]any{}, now); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Delete(ctx, "products", "s1", "p2"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Delete(ctx, "products", "s2", "p2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestAuditLogsNewestFirst(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	for i, res := range []string{"products", "users", "products"} {
		_ = s.AppendAuditLog(ctx, audit.Entry{ID: string(rune('a' + i)), StoreID: "s1", Resource: res})
	}
	_ = s.AppendAuditLog(ctx, audit.Entry{ID: "z", StoreID: "s2", Resource: "products"})

	got, _ := s.ListAuditLogs(ctx, "s1", audit.Query{Resource: "products"})
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	got, _ = s.ListAuditLogs(ctx, "s1", audit.Query{Limit: 1})
	if len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("limit not applied: %+v", got)
	}
}

func TestLastActiveOwnerIsKept(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	if err := s.UpdateUserStatus(ctx, "s1", "u1", auth.StatusInactive, time.Now()); !errors.Is(err, auth.ErrLastOwner) {
		t.Fatalf("expected last owner rejection, got %v", err)
	}
	if err := s.UpdateUserRole(ctx, "s1", "u1", auth.RoleAdmin, time.Now()); !errors.Is(err, auth.ErrBadRequest) {
		t.Fatalf("expected demotion to be rejected, got %v", err)
	}
	if u, _ := s.GetUser(ctx, "s1", "u1"); u.Role != auth.RoleOwner || u.Status != auth.StatusActive {
		t.Fatalf("rejected write must change nothing: %+v", u)
	}
	// Re-asserting the same role on the last owner is not a demotion.
	if err := s.UpdateUserRole(ctx, "s1", "u1", auth.RoleOwner, time.Now()); err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}
}

func TestConcurrentOwnerRemovalKeepsOne(t *testing.T) {
	for round := 0; round < 50; round++ {
		s := seeded(t)
		ctx := context.Background()
		err := s.CreateUser(ctx, auth.User{ID: "u4", Email: "owner2@s1.test", Role: auth.RoleOwner, StoreID: "s1", Status: auth.StatusActive})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			errs[0] = s.UpdateUserStatus(ctx, "s1", "u1", auth.StatusInactive, time.Now())
		}()
		go func() {
			defer wg.Done()
			<-start
			errs[1] = s.UpdateUserRole(ctx, "s1", "u4", auth.RoleAdmin, time.Now())
		}()
		close(start)
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if errors.Is(err, auth.ErrLastOwner) {
				failed++
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if n, _ := s.CountActiveOwners(ctx, "s1"); n != 1 || failed != 1 {
			t.Fatalf("round %d: active owners=%d rejected=%d", round, n, failed)
		}
	}
}
