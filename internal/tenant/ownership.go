// Package tenant keeps every read and write inside the caller's store.
//
// Isolation holds in three independent layers: persistence calls take the
// tenant id explicitly, fetched resources are checked against the request
// context with ValidateOwnership, and the audit trail records the tenant each
// write executed under.
package tenant

import (
	"context"

	"trafi.io/internal/auth"
)

// Owned is anything that belongs to exactly one tenant.
type Owned interface {
	OwnerTenantID() string
}

// ValidateOwnership fails with auth.ErrNotFound when res belongs to a tenant
// other than the current one. A mismatch is reported as absent so the caller
// cannot learn that the id exists elsewhere. Without an established request
// context the call is treated as a trusted system call and passes.
func ValidateOwnership(ctx context.Context, res Owned) error {
	rc, ok := auth.Current(ctx)
	if !ok {
		return nil
	}
	if res == nil || res.OwnerTenantID() != rc.TenantID {
		return auth.ErrNotFound
	}
	return nil
}

// ResolveTenant returns the tenant a scoped call must run under. An explicit
// id must agree with the established context; a disagreement is reported as
// auth.ErrNotFound.
func ResolveTenant(ctx context.Context, explicit string) (string, error) {
	rc, ok := auth.Current(ctx)
	switch {
	case ok && explicit == "":
		return rc.TenantID, nil
	case ok && explicit != rc.TenantID:
		return "", auth.ErrNotFound
	case explicit != "":
		return explicit, nil
	default:
		return "", auth.ErrUnauthenticated
	}
}
