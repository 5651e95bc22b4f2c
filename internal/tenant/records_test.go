package tenant

import (
	"errors"
	"testing"

	"trafi.io/internal/auth"
)

func TestRepositoryScopesEveryCall(t *testing.T) {
	foreign := Record{ID: "rec-b", StoreID: "store-b", Entity: "products", Data: map[string]any{"sku": "B-1"}}
	records := newFakeRecords(foreign)
	repo := NewRepository(records, "products")
	ctx := scoped(t, auth.RequestContext{TenantID: "store-a", UserID: "u1", Role: auth.RoleAdmin})

	created, err := repo.Create(ctx, map[string]any{"sku": "A-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.StoreID != "store-a" || created.Entity != "products" || created.ID == "" {
		t.Fatalf("unexpected record: %+v", created)
	}

	got, err := repo.Get(ctx, created.ID)
	if err != nil || got.ID != created.ID {
		t.Fatalf("Get own record: %+v, %v", got, err)
	}

	if _, err := repo.Get(ctx, foreign.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("foreign record must be not found, got %v", err)
	}
	if _, err := repo.Update(ctx, foreign.ID, map[string]any{"sku": "hijack"}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("foreign update must be not found, got %v", err)
	}
	if err := repo.Delete(ctx, foreign.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("foreign delete must be not found, got %v", err)
	}

	list, err := repo.List(ctx, map[string]string{"sku": "A-1"}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
	for _, f := range records.filters {
		if f.TenantID != "store-a" {
			t.Fatalf("persistence call without tenant: %+v", f)
		}
	}
}

func TestRepositoryUpdateAndDelete(t *testing.T) {
	records := newFakeRecords()
	repo := NewRepository(records, "products")
	ctx := scoped(t, auth.RequestContext{TenantID: "store-a"})

	rec, err := repo.Create(ctx, map[string]any{"sku": "A-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	updated, err := repo.Update(ctx, rec.ID, map[string]any{"sku": "A-2"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Data["sku"] != "A-2" {
		t.Fatalf("update not applied: %+v", updated)
	}
	if err := repo.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, rec.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("deleted record still found: %v", err)
	}
}

func TestRepositoryRequiresContext(t *testing.T) {
	repo := NewRepository(newFakeRecords(), "products")
	if _, err := repo.Create(t.Context(), nil); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRepositoryRejectsBadFilterFields(t *testing.T) {
	repo := NewRepository(newFakeRecords(), "products")
	ctx := scoped(t, auth.RequestContext{TenantID: "store-a"})
	if _, err := repo.List(ctx, map[string]string{"sku'; drop table": "x"}, 10); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
