package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

type principalContextKey struct{}
type requestContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// WithRequestContext derives a context that carries rc. The parent is left
// untouched, so an outer scope never observes an inner establishment.
func WithRequestContext(ctx context.Context, rc RequestContext) (context.Context, error) {
	if strings.TrimSpace(rc.TenantID) == "" {
		return ctx, errors.New("request context requires a tenant id")
	}
	rc = rc.clone()
	return context.WithValue(ctx, requestContextKey{}, rc), nil
}

// Establish runs fn inside a scope bound to rc. Anything reached from fn
// through the derived context, including goroutines handed that context,
// observes rc.
func Establish(ctx context.Context, rc RequestContext, fn func(context.Context) error) error {
	scoped, err := WithRequestContext(ctx, rc)
	if err != nil {
		return err
	}
	return fn(scoped)
}

// Current returns the request context bound to ctx, if any.
func Current(ctx context.Context) (RequestContext, bool) {
	if ctx == nil {
		return RequestContext{}, false
	}
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	if !ok {
		return RequestContext{}, false
	}
	return rc.clone(), true
}

// RequireCurrent is Current for callers that cannot proceed without one.
func RequireCurrent(ctx context.Context) (RequestContext, error) {
	rc, ok := Current(ctx)
	if !ok {
		return RequestContext{}, ErrUnauthenticated
	}
	return rc, nil
}

// FromPrincipal normalizes a verified principal into a request context with a
// fresh request id. It reports false when the principal names no tenant.
func FromPrincipal(p Principal, requestID string) (RequestContext, bool) {
	tenantID := strings.TrimSpace(p.TenantID)
	if tenantID == "" {
		return RequestContext{}, false
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	rc := RequestContext{
		TenantID:  tenantID,
		UserID:    p.UserID,
		Role:      p.Role,
		RequestID: requestID,
		Kind:      p.Kind,
	}
	if p.Kind == PrincipalAPIKey {
		rc.UserID = p.APIKeyID
		rc.Scopes = append([]Permission(nil), p.Scopes...)
	}
	return rc, true
}
