package audit

import (
	"context"

	"trafi.io/internal/tenant"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

// Query filters the audit trail of one store.
type Query struct {
	Resource string
	UserID   string
	Limit    int
}

// Reader lists persisted entries of a store, newest first.
type Reader interface {
	ListAuditLogs(ctx context.Context, storeID string, q Query) ([]Entry, error)
}

// List returns the audit trail of the store bound to ctx.
func List(ctx context.Context, r Reader, q Query) ([]Entry, error) {
	storeID, err := tenant.ResolveTenant(ctx, "")
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 || q.Limit > maxQueryLimit {
		q.Limit = defaultQueryLimit
	}
	entries, err := r.ListAuditLogs(ctx, storeID, q)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.StoreID == storeID {
			out = append(out, e)
		}
	}
	return out, nil
}
