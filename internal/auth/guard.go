package auth

import (
	"context"
	"slices"
)

// Requirement is what a route declares about its callers. Empty Roles or
// Permissions means no constraint of that kind.
type Requirement struct {
	Public      bool
	Roles       []Role
	Permissions []Permission
}

// RouteTable maps a route pattern such as "DELETE /api/products/{id}" to its
// requirement.
type RouteTable map[string]Requirement

// Guard is one authorization predicate. Guards only read the context.
type Guard func(ctx context.Context) error

// Authenticated requires a resolved principal.
func Authenticated() Guard {
	return func(ctx context.Context) error {
		if _, ok := PrincipalFromContext(ctx); !ok {
			return ErrUnauthenticated
		}
		return nil
	}
}

// RequireRole passes when the caller holds any one of roles.
func RequireRole(roles ...Role) Guard {
	return func(ctx context.Context) error {
		if len(roles) == 0 {
			return nil
		}
		p, ok := PrincipalFromContext(ctx)
		if !ok {
			return ErrUnauthenticated
		}
		if p.Role != "" && slices.Contains(roles, p.Role) {
			return nil
		}
		return &ForbiddenError{RequiredRoles: slices.Clone(roles), ActualRole: p.Role}
	}
}

// RequirePermissions passes when the caller holds every one of perms. OWNER
// always passes. API keys are checked against their scopes.
func RequirePermissions(perms ...Permission) Guard {
	return func(ctx context.Context) error {
		if len(perms) == 0 {
			return nil
		}
		p, ok := PrincipalFromContext(ctx)
		if !ok {
			return ErrUnauthenticated
		}
		for _, perm := range perms {
			if !p.holds(perm) {
				return &ForbiddenError{RequiredPermissions: slices.Clone(perms), ActualRole: p.Role}
			}
		}
		return nil
	}
}

func (p Principal) holds(perm Permission) bool {
	if p.Kind == PrincipalAPIKey {
		return slices.Contains(p.Scopes, perm)
	}
	return HasPermission(p.Role, perm)
}

// Chain evaluates authentication, role and permission guards in that order
// against a static route table and stops at the first failure.
type Chain struct {
	routes RouteTable
}

// NewChain builds a Chain over routes.
func NewChain(routes RouteTable) *Chain {
	return &Chain{routes: routes}
}

// Requirement returns what route declares. Unknown routes require an
// authenticated caller and nothing else.
func (c *Chain) Requirement(route string) Requirement {
	if c == nil {
		return Requirement{}
	}
	return c.routes[route]
}

// Guards returns the ordered guards for route.
func (c *Chain) Guards(route string) []Guard {
	req := c.Requirement(route)
	if req.Public {
		return nil
	}
	return []Guard{
		Authenticated(),
		RequireRole(req.Roles...),
		RequirePermissions(req.Permissions...),
	}
}

// Check runs the guards of route against ctx.
func (c *Chain) Check(ctx context.Context, route string) error {
	for _, g := range c.Guards(route) {
		if err := g(ctx); err != nil {
			return err
		}
	}
	return nil
}
