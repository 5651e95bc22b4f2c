package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
)

var testRoutes = RouteTable{
	"POST /api/auth/login":        {Public: true},
	"GET /api/products/{id}":      {Permissions: []Permission{PermProductsRead}},
	"DELETE /api/products/{id}":   {Permissions: []Permission{PermProductsDelete}},
	"POST /api/users/invite":      {Roles: []Role{RoleAdmin, RoleOwner}, Permissions: []Permission{PermUsersInvite}},
	"PATCH /api/settings":         {Permissions: []Permission{PermSettingsRead, PermSettingsUpdate}},
	"GET /api/auth/me":            {},
	"POST /api/users/{id}/status": {Roles: []Role{RoleOwner}},
}

func withRole(role Role) context.Context {
	return ContextWithPrincipal(context.Background(), Principal{Kind: PrincipalUser, UserID: "u1", TenantID: "s1", Role: role})
}

func TestChainPermissionGuard(t *testing.T) {
	chain := NewChain(testRoutes)

	err := chain.Check(withRole(RoleViewer), "DELETE /api/products/{id}")
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if !errors.Is(err, ErrForbidden) {
		t.Fatal("ForbiddenError must unwrap to ErrForbidden")
	}
	if !slices.Equal(fe.RequiredPermissions, []Permission{PermProductsDelete}) {
		t.Fatalf("unexpected required permissions: %v", fe.RequiredPermissions)
	}

	if err := chain.Check(withRole(RoleAdmin), "DELETE /api/products/{id}"); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}
	if err := chain.Check(withRole(RoleOwner), "PATCH /api/settings"); err != nil {
		t.Fatalf("owner should pass every permission check: %v", err)
	}
	if err := chain.Check(withRole(RoleViewer), "PATCH /api/settings"); err == nil {
		t.Fatal("viewer must hold all declared permissions")
	}
}

func TestChainRoleGuard(t *testing.T) {
	chain := NewChain(testRoutes)

	err := chain.Check(withRole(RoleEditor), "POST /api/users/invite")
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if fe.ActualRole != RoleEditor || len(fe.RequiredRoles) != 2 || len(fe.RequiredPermissions) != 0 {
		t.Fatalf("unexpected forbidden detail: %+v", fe)
	}
	if err := chain.Check(withRole(RoleAdmin), "POST /api/users/invite"); err != nil {
		t.Fatalf("admin matches one allowed role: %v", err)
	}
	if err := chain.Check(withRole(RoleAdmin), "POST /api/users/{id}/status"); err == nil {
		t.Fatal("admin is not owner")
	}
}

func TestChainAuthentication(t *testing.T) {
	chain := NewChain(testRoutes)
	if err := chain.Check(context.Background(), "GET /api/auth/me"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := chain.Check(context.Background(), "GET /api/unlisted"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("unlisted routes still need a caller, got %v", err)
	}
	if err := chain.Check(context.Background(), "POST /api/auth/login"); err != nil {
		t.Fatalf("public route: %v", err)
	}
	if err := chain.Check(withRole(RoleViewer), "GET /api/auth/me"); err != nil {
		t.Fatalf("no requirement beyond authentication: %v", err)
	}
}

func TestChainAPIKeyPrincipals(t *testing.T) {
	chain := NewChain(testRoutes)
	ctx := ContextWithPrincipal(context.Background(), Principal{
		Kind:     PrincipalAPIKey,
		APIKeyID: "k1",
		TenantID: "s1",
		Scopes:   []Permission{PermProductsRead},
	})
	if err := chain.Check(ctx, "GET /api/products/{id}"); err != nil {
		t.Fatalf("scoped key should read products: %v", err)
	}
	if err := chain.Check(ctx, "DELETE /api/products/{id}"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("key without scope must be forbidden, got %v", err)
	}
	if err := chain.Check(ctx, "POST /api/users/invite"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("keys carry no role, got %v", err)
	}
}

func TestRoleHierarchy(t *testing.T) {
	if !CanGrant(RoleAdmin, RoleAdmin) || CanGrant(RoleAdmin, RoleOwner) || !CanGrant(RoleOwner, RoleOwner) {
		t.Fatal("grant must be capped at the caller's own level")
	}
	if CanGrant(RoleOwner, Role("ROOT")) {
		t.Fatal("unknown roles are never grantable")
	}
	if CanManage(RoleAdmin, RoleAdmin) || !CanManage(RoleAdmin, RoleEditor) {
		t.Fatal("non-owners manage strictly lower roles only")
	}
	if !CanManage(RoleOwner, RoleOwner) {
		t.Fatal("owners manage peers")
	}
	if HasPermission(RoleViewer, PermProductsCreate) || !HasPermission(RoleEditor, PermProductsCreate) {
		t.Fatal("unexpected editor/viewer grants")
	}
	if !HasPermission(RoleOwner, Permission("anything:at-all")) {
		t.Fatal("owner passes every permission check")
	}
}
