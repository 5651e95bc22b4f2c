package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeStore struct {
	mu       sync.Mutex
	users    map[string]User
	keys     map[string]APIKey
	touchErr error
	touched  chan string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]User),
		keys:    make(map[string]APIKey),
		touched: make(chan string, 16),
	}
}

func (f *fakeStore) put(u User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *fakeStore) user(id string) User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id]
}

func (f *fakeStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (f *fakeStore) FindUserByID(_ context.Context, id string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) RecordLogin(_ context.Context, userID, refreshHash string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.RefreshTokenHash = refreshHash
	u.LastLoginAt = &at
	f.users[userID] = u
	return nil
}

func (f *fakeStore) RotateRefreshToken(_ context.Context, userID, oldHash, newHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.RefreshTokenHash != oldHash {
		return false, nil
	}
	u.RefreshTokenHash = newHash
	f.users[userID] = u
	return true, nil
}

func (f *fakeStore) ClearRefreshToken(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil
	}
	u.RefreshTokenHash = ""
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreateAPIKey(_ context.Context, key APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key.ID] = key
	return nil
}

func (f *fakeStore) FindAPIKeyByHash(_ context.Context, hash string) (APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.KeyHash == hash {
			return k, nil
		}
	}
	return APIKey{}, ErrNotFound
}

func (f *fakeStore) ListAPIKeys(_ context.Context, storeID string) ([]APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []APIKey
	for _, k := range f.keys {
		if k.StoreID == storeID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAPIKey(_ context.Context, storeID, id string) (APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[id]
	if !ok || k.StoreID != storeID {
		return APIKey{}, ErrNotFound
	}
	return k, nil
}

func (f *fakeStore) RevokeAPIKey(_ context.Context, storeID, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[id]
	if !ok || k.StoreID != storeID {
		return ErrNotFound
	}
	if k.RevokedAt == nil {
		k.RevokedAt = &at
	}
	f.keys[id] = k
	return nil
}

func (f *fakeStore) TouchAPIKey(_ context.Context, id string, at time.Time) error {
	defer func() { f.touched <- id }()
	if f.touchErr != nil {
		return f.touchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[id]
	if !ok {
		return errors.New("missing key")
	}
	k.LastUsedAt = &at
	f.keys[id] = k
	return nil
}
