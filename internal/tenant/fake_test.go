package tenant

import (
	"context"
	"sync"
	"time"

	"trafi.io/internal/auth"
)

type fakeMembers struct {
	mu    sync.Mutex
	users map[string]auth.User
}

func newFakeMembers(users ...auth.User) *fakeMembers {
	f := &fakeMembers{users: make(map[string]auth.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeMembers) ListUsers(_ context.Context, storeID string) ([]auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []auth.User
	for _, u := range f.users {
		if u.StoreID == storeID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeMembers) GetUser(_ context.Context, storeID, id string) (auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.StoreID != storeID {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (f *fakeMembers) CreateUser(_ context.Context, u auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return auth.ErrConflict
		}
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeMembers) UpdateUserRole(_ context.Context, storeID, id string, role auth.Role, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.StoreID != storeID {
		return auth.ErrNotFound
	}
	if u.Role == auth.RoleOwner && role != auth.RoleOwner && u.Status == auth.StatusActive && f.activeOwners(storeID) <= 1 {
		return auth.ErrLastOwner
	}
	u.Role = role
	u.UpdatedAt = at
	f.users[id] = u
	return nil
}

func (f *fakeMembers) UpdateUserStatus(_ context.Context, storeID, id string, status auth.UserStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.StoreID != storeID {
		return auth.ErrNotFound
	}
	if u.Role == auth.RoleOwner && u.Status == auth.StatusActive && status != auth.StatusActive && f.activeOwners(storeID) <= 1 {
		return auth.ErrLastOwner
	}
	u.Status = status
	u.UpdatedAt = at
	f.users[id] = u
	return nil
}

func (f *fakeMembers) CountActiveOwners(_ context.Context, storeID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeOwners(storeID), nil
}

func (f *fakeMembers) activeOwners(storeID string) int {
	n := 0
	for _, u := range f.users {
		if u.StoreID == storeID && u.Role == auth.RoleOwner && u.Status == auth.StatusActive {
			n++
		}
	}
	return n
}

type fakeRecords struct {
	mu      sync.Mutex
	records map[string]Record
	filters []Filter
}

func newFakeRecords(recs ...Record) *fakeRecords {
	f := &fakeRecords{records: make(map[string]Record)}
	for _, r := range recs {
		f.records[r.ID] = r
	}
	return f
}

// Find deliberately ignores the tenant filter when ID is set so tests can
// prove the ownership check catches a storage layer that forgets it.
func (f *fakeRecords) Find(_ context.Context, entity string, flt Filter) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, flt)
	var out []Record
	for _, r := range f.records {
		if r.Entity != entity {
			continue
		}
		if flt.ID != "" {
			if r.ID == flt.ID {
				out = append(out, r)
			}
			continue
		}
		if r.StoreID != flt.TenantID {
			continue
		}
		match := true
		for k, v := range flt.Fields {
			if s, _ := r.Data[k].(string); s != v {
				match = false
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecords) Create(_ context.Context, entity string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.Entity = entity
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeRecords) Update(_ context.Context, entity, tenantID, id string, data map[string]any, at time.Time) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.StoreID != tenantID || r.Entity != entity {
		return Record{}, auth.ErrNotFound
	}
	r.Data = data
	r.UpdatedAt = at
	f.records[id] = r
	return r, nil
}

func (f *fakeRecords) Delete(_ context.Context, entity, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.StoreID != tenantID || r.Entity != entity {
		return auth.ErrNotFound
	}
	delete(f.records, id)
	return nil
}
