package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trafi.io/internal/auth"
)

var _ auth.APIKeyStore = (*Store)(nil)

const apiKeyColumns = `id, store_id, name, key_hash, key_prefix, last_four, scopes,
	expires_at, revoked_at, last_used_at, created_at`

func scanAPIKey(row scanner) (auth.APIKey, error) {
	var (
		k                          auth.APIKey
		rawScopes                  []byte
		expires, revoked, lastUsed sql.NullTime
	)
	err := row.Scan(&k.ID, &k.StoreID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.LastFourChars, &rawScopes,
		&expires, &revoked, &lastUsed, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.APIKey{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.APIKey{}, err
	}
	k.Scopes = []auth.Permission{}
	if len(rawScopes) > 0 {
		if err := json.Unmarshal(rawScopes, &k.Scopes); err != nil {
			return auth.APIKey{}, fmt.Errorf("decode scopes: %w", err)
		}
	}
	k.ExpiresAt = timePtr(expires)
	k.RevokedAt = timePtr(revoked)
	k.LastUsedAt = timePtr(lastUsed)
	return k, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, k auth.APIKey) error {
	if s.db == nil {
		return errNoDB
	}
	scopes := k.Scopes
	if scopes == nil {
		scopes = []auth.Permission{}
	}
	rawScopes, err := json.Marshal(scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into api_keys (id, store_id, name, key_hash, key_prefix, last_four, scopes, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, k.ID, k.StoreID, k.Name, k.KeyHash, k.KeyPrefix, k.LastFourChars, rawScopes, nullTime(k.ExpiresAt), k.CreatedAt.UTC())
	return mapWriteErr(err)
}

func (s *Store) FindAPIKeyByHash(ctx context.Context, hash string) (auth.APIKey, error) {
	if s.db == nil {
		return auth.APIKey{}, errNoDB
	}
	return scanAPIKey(s.db.QueryRowContext(ctx,
		`select `+apiKeyColumns+` from api_keys where key_hash = $1`, hash))
}

func (s *Store) ListAPIKeys(ctx context.Context, storeID string) ([]auth.APIKey, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+apiKeyColumns+`
		from api_keys
		where store_id = $1
		order by created_at desc, id
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetAPIKey(ctx context.Context, storeID, id string) (auth.APIKey, error) {
	if s.db == nil {
		return auth.APIKey{}, errNoDB
	}
	return scanAPIKey(s.db.QueryRowContext(ctx,
		`select `+apiKeyColumns+` from api_keys where store_id = $1 and id = $2`, storeID, id))
}

// RevokeAPIKey keeps the first revocation time when called twice.
func (s *Store) RevokeAPIKey(ctx context.Context, storeID, id string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	return expectOne(s.db.ExecContext(ctx, `
		update api_keys set revoked_at = coalesce(revoked_at, $3)
		where store_id = $1 and id = $2
	`, storeID, id, at.UTC()))
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	return expectOne(s.db.ExecContext(ctx,
		`update api_keys set last_used_at = $2 where id = $1`, id, at.UTC()))
}
