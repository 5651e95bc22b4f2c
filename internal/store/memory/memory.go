// Package memory is an in-process implementation of every store interface of
// the service. It backs development runs and HTTP tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"trafi.io/internal/audit"
	"trafi.io/internal/auth"
	"trafi.io/internal/tenant"
)

// Store keeps all state behind one RWMutex.
type Store struct {
	mu      sync.RWMutex
	stores  map[string]string // id -> name
	users   map[string]auth.User
	byEmail map[string]string
	keys    map[string]auth.APIKey
	byHash  map[string]string
	records map[string]map[string]tenant.Record // entity -> id -> record
	audit   []audit.Entry
}

var (
	_ auth.UserStore     = (*Store)(nil)
	_ auth.APIKeyStore   = (*Store)(nil)
	_ tenant.MemberStore = (*Store)(nil)
	_ tenant.Records     = (*Store)(nil)
	_ audit.Sink         = (*Store)(nil)
	_ audit.Reader       = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		stores:  make(map[string]string),
		users:   make(map[string]auth.User),
		byEmail: make(map[string]string),
		keys:    make(map[string]auth.APIKey),
		byHash:  make(map[string]string),
		records: make(map[string]map[string]tenant.Record),
	}
}

// CreateStore registers a tenant.
func (s *Store) CreateStore(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[id]; ok {
		return auth.ErrConflict
	}
	s.stores[id] = name
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// --- users ---

func (s *Store) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) RecordLogin(_ context.Context, userID, refreshHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	at = at.UTC()
	u.LastLoginAt = &at
	u.RefreshTokenHash = refreshHash
	s.users[userID] = u
	return nil
}

func (s *Store) RotateRefreshToken(_ context.Context, userID, oldHash, newHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, auth.ErrNotFound
	}
	if oldHash == "" || u.RefreshTokenHash != oldHash {
		return false, nil
	}
	u.RefreshTokenHash = newHash
	s.users[userID] = u
	return true, nil
}

func (s *Store) ClearRefreshToken(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.RefreshTokenHash = ""
	s.users[userID] = u
	return nil
}

// --- members ---

func (s *Store) ListUsers(_ context.Context, storeID string) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.User
	for _, u := range s.users {
		if u.StoreID == storeID {
			out = append(out, cloneUser(u))
		}
	}
	slices.SortFunc(out, func(a, b auth.User) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) GetUser(_ context.Context, storeID, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || u.StoreID != storeID {
		return auth.User{}, auth.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) CreateUser(_ context.Context, u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[u.StoreID]; !ok {
		return fmt.Errorf("%w: unknown store %q", auth.ErrBadRequest, u.StoreID)
	}
	email := strings.ToLower(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return auth.ErrConflict
	}
	if _, ok := s.users[u.ID]; ok {
		return auth.ErrConflict
	}
	s.users[u.ID] = cloneUser(u)
	s.byEmail[email] = u.ID
	return nil
}

func (s *Store) UpdateUserRole(_ context.Context, storeID, id string, role auth.Role, at time.Time) error {
	return s.updateUser(storeID, id, func(u *auth.User) {
		u.Role = role
		u.UpdatedAt = at.UTC()
	})
}

func (s *Store) UpdateUserStatus(_ context.Context, storeID, id string, status auth.UserStatus, at time.Time) error {
	return s.updateUser(storeID, id, func(u *auth.User) {
		u.Status = status
		u.UpdatedAt = at.UTC()
		if status != auth.StatusActive {
			u.RefreshTokenHash = ""
		}
	})
}

// updateUser applies fn and the last-owner check under the same lock.
func (s *Store) updateUser(storeID, id string, fn func(*auth.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.StoreID != storeID {
		return auth.ErrNotFound
	}
	next := u
	fn(&next)
	if isActiveOwner(u) && !isActiveOwner(next) && s.activeOwners(storeID) <= 1 {
		return auth.ErrLastOwner
	}
	s.users[id] = next
	return nil
}

func (s *Store) CountActiveOwners(_ context.Context, storeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeOwners(storeID), nil
}

func (s *Store) activeOwners(storeID string) int {
	n := 0
	for _, u := range s.users {
		if u.StoreID == storeID && isActiveOwner(u) {
			n++
		}
	}
	return n
}

func isActiveOwner(u auth.User) bool {
	return u.Role == auth.RoleOwner && u.Status == auth.StatusActive
}

// --- api keys ---

func (s *Store) CreateAPIKey(_ context.Context, k auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k.ID]; ok {
		return auth.ErrConflict
	}
	if _, ok := s.byHash[k.KeyHash]; ok {
		return auth.ErrConflict
	}
	s.keys[k.ID] = cloneKey(k)
	s.byHash[k.KeyHash] = k.ID
	return nil
}

func (s *Store) FindAPIKeyByHash(_ context.Context, hash string) (auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return auth.APIKey{}, auth.ErrNotFound
	}
	return cloneKey(s.keys[id]), nil
}

func (s *Store) ListAPIKeys(_ context.Context, storeID string) ([]auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.APIKey
	for _, k := range s.keys {
		if k.StoreID == storeID {
			out = append(out, cloneKey(k))
		}
	}
	slices.SortFunc(out, func(a, b auth.APIKey) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) GetAPIKey(_ context.Context, storeID, id string) (auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok || k.StoreID != storeID {
		return auth.APIKey{}, auth.ErrNotFound
	}
	return cloneKey(k), nil
}

func (s *Store) RevokeAPIKey(_ context.Context, storeID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.StoreID != storeID {
		return auth.ErrNotFound
	}
	if k.RevokedAt == nil {
		at = at.UTC()
		k.RevokedAt = &at
		s.keys[id] = k
	}
	return nil
}

func (s *Store) TouchAPIKey(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return auth.ErrNotFound
	}
	at = at.UTC()
	k.LastUsedAt = &at
	s.keys[id] = k
	return nil
}

// --- records ---

func (s *Store) Find(_ context.Context, entity string, f tenant.Filter) ([]tenant.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tenant.Record
	for _, r := range s.records[entity] {
		if r.StoreID != f.TenantID {
			continue
		}
		if f.ID != "" && r.ID != f.ID {
			continue
		}
		if !matches(r.Data, f.Fields) {
			continue
		}
		out = append(out, cloneRecord(r))
	}
	slices.SortFunc(out, func(a, b tenant.Record) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Create(_ context.Context, entity string, rec tenant.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.records[entity]
	if !ok {
		bucket = make(map[string]tenant.Record)
		s.records[entity] = bucket
	}
	if _, ok := bucket[rec.ID]; ok {
		return auth.ErrConflict
	}
	rec.Entity = entity
	bucket[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *Store) Update(_ context.Context, entity, tenantID, id string, data map[string]any, at time.Time) (tenant.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[entity][id]
	if !ok || r.StoreID != tenantID {
		return tenant.Record{}, auth.ErrNotFound
	}
	r.Data = maps.Clone(data)
	r.UpdatedAt = at.UTC()
	s.records[entity][id] = r
	return cloneRecord(r), nil
}

func (s *Store) Delete(_ context.Context, entity, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[entity][id]
	if !ok || r.StoreID != tenantID {
		return auth.ErrNotFound
	}
	delete(s.records[entity], id)
	return nil
}

// --- audit ---

func (s *Store) AppendAuditLog(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Metadata = maps.Clone(e.Metadata)
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, q audit.Query) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if e.StoreID != storeID {
			continue
		}
		if q.Resource != "" && e.Resource != q.Resource {
			continue
		}
		if q.UserID != "" && e.UserID != q.UserID {
			continue
		}
		e.Metadata = maps.Clone(e.Metadata)
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func matches(data map[string]any, fields map[string]string) bool {
	for k, want := range fields {
		v, ok := data[k]
		if !ok || fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

func cloneUser(u auth.User) auth.User {
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		u.LastLoginAt = &t
	}
	return u
}

func cloneKey(k auth.APIKey) auth.APIKey {
	k.Scopes = slices.Clone(k.Scopes)
	for _, p := range []**time.Time{&k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return k
}

func cloneRecord(r tenant.Record) tenant.Record {
	r.Data = maps.Clone(r.Data)
	return r
}
