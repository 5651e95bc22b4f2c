package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"trafi.io/internal/auth"
	"trafi.io/internal/tenant"
)

var (
	_ auth.UserStore     = (*Store)(nil)
	_ tenant.MemberStore = (*Store)(nil)
)

const userColumns = `id, store_id, email, coalesce(password_hash, ''), role, status,
	coalesce(refresh_token_hash, ''), last_login_at, created_at, updated_at`

func scanUser(row scanner) (auth.User, error) {
	var (
		u         auth.User
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.StoreID, &u.Email, &u.PasswordHash, &u.Role, &u.Status,
		&u.RefreshTokenHash, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	u.LastLoginAt = timePtr(lastLogin)
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1`, strings.ToLower(email)))
}

func (s *Store) FindUserByID(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id))
}

func (s *Store) RecordLogin(ctx context.Context, userID, refreshHash string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	return expectOne(s.db.ExecContext(ctx, `
		update users set last_login_at = $2, refresh_token_hash = $3
		where id = $1
	`, userID, at.UTC(), refreshHash))
}

// RotateRefreshToken swaps the hash only if it still equals oldHash, so two
// concurrent refreshes with the same token cannot both win.
func (s *Store) RotateRefreshToken(ctx context.Context, userID, oldHash, newHash string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	if oldHash == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `
		update users set refresh_token_hash = $3
		where id = $1 and refresh_token_hash = $2
	`, userID, oldHash, newHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ClearRefreshToken(ctx context.Context, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	return expectOne(s.db.ExecContext(ctx,
		`update users set refresh_token_hash = null where id = $1`, userID))
}

func (s *Store) ListUsers(ctx context.Context, storeID string) ([]auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		where store_id = $1
		order by created_at, id
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetUser(ctx context.Context, storeID, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where store_id = $1 and id = $2`, storeID, id))
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, store_id, email, password_hash, role, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.StoreID, strings.ToLower(u.Email), nullIfEmpty(u.PasswordHash), string(u.Role), string(u.Status),
		u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	return mapWriteErr(err)
}

// keepsOwner is appended to member updates: the row of an ACTIVE OWNER only
// changes when another ACTIVE OWNER of the store remains.
const keepsOwner = `exists (
		select 1 from users o
		where o.store_id = $1 and o.id <> $2 and o.role = 'OWNER' and o.status = 'ACTIVE'
	)`

func (s *Store) UpdateUserRole(ctx context.Context, storeID, id string, role auth.Role, at time.Time) error {
	return s.updateMember(ctx, storeID, id, `
		update users set role = $3, updated_at = $4
		where store_id = $1 and id = $2
		  and (role <> 'OWNER' or status <> 'ACTIVE' or $3 = 'OWNER' or `+keepsOwner+`)
	`, storeID, id, string(role), at.UTC())
}

// UpdateUserStatus also drops the refresh token of a user who is no longer
// active.
func (s *Store) UpdateUserStatus(ctx context.Context, storeID, id string, status auth.UserStatus, at time.Time) error {
	return s.updateMember(ctx, storeID, id, `
		update users
		set status = $3,
		    updated_at = $4,
		    refresh_token_hash = case when $3 = 'ACTIVE' then refresh_token_hash else null end
		where store_id = $1 and id = $2
		  and (role <> 'OWNER' or status <> 'ACTIVE' or $3 = 'ACTIVE' or `+keepsOwner+`)
	`, storeID, id, string(status), at.UTC())
}

// updateMember runs query while holding the store row lock, so concurrent
// owner changes of one store apply one after another and each sees the
// other's result. Zero affected rows means either an unknown user or a
// refused last-owner change.
func (s *Store) updateMember(ctx context.Context, storeID, id, query string, args ...any) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select id from stores where id = $1 for update`, storeID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`select exists(select 1 from users where store_id = $1 and id = $2)`, storeID, id).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return auth.ErrLastOwner
		}
		return auth.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) CountActiveOwners(ctx context.Context, storeID string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from users
		where store_id = $1 and role = 'OWNER' and status = 'ACTIVE'
	`, storeID).Scan(&n)
	return n, err
}
