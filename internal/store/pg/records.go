package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"trafi.io/internal/auth"
	"trafi.io/internal/tenant"
)

var _ tenant.Records = (*Store)(nil)

func scanRecord(row scanner, entity string) (tenant.Record, error) {
	var (
		rec     tenant.Record
		rawData []byte
	)
	err := row.Scan(&rec.ID, &rec.StoreID, &rawData, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Record{}, auth.ErrNotFound
	}
	if err != nil {
		return tenant.Record{}, err
	}
	rec.Entity = entity
	rec.Data = map[string]any{}
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &rec.Data); err != nil {
			return tenant.Record{}, fmt.Errorf("decode data: %w", err)
		}
	}
	return rec, nil
}

// Find always filters by store. Field filters compare the text form of
// top-level JSON keys; key names travel as parameters, never as SQL.
func (s *Store) Find(ctx context.Context, entity string, f tenant.Filter) ([]tenant.Record, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		where = []string{"entity = $1", "store_id = $2"}
		args  = []any{entity, f.TenantID}
		idx   = 3
	)
	if f.ID != "" {
		where = append(where, fmt.Sprintf("id = $%d", idx))
		args = append(args, f.ID)
		idx++
	}
	keys := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		where = append(where, fmt.Sprintf("data->>($%d::text) = $%d", idx, idx+1))
		args = append(args, k, f.Fields[k])
		idx += 2
	}
	query := `select id, store_id, data, created_at, updated_at from records where ` +
		strings.Join(where, " and ") + " order by created_at, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" limit $%d", idx)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tenant.Record
	for rows.Next() {
		rec, err := scanRecord(rows, entity)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Create(ctx context.Context, entity string, rec tenant.Record) error {
	if s.db == nil {
		return errNoDB
	}
	rawData, err := marshalData(rec.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into records (entity, id, store_id, data, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, entity, rec.ID, rec.StoreID, rawData, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	return mapWriteErr(err)
}

func (s *Store) Update(ctx context.Context, entity, tenantID, id string, data map[string]any, at time.Time) (tenant.Record, error) {
	if s.db == nil {
		return tenant.Record{}, errNoDB
	}
	rawData, err := marshalData(data)
	if err != nil {
		return tenant.Record{}, err
	}
	return scanRecord(s.db.QueryRowContext(ctx, `
		update records set data = $4, updated_at = $5
		where entity = $1 and store_id = $2 and id = $3
		returning id, store_id, data, created_at, updated_at
	`, entity, tenantID, id, rawData, at.UTC()), entity)
}

func (s *Store) Delete(ctx context.Context, entity, tenantID, id string) error {
	if s.db == nil {
		return errNoDB
	}
	return expectOne(s.db.ExecContext(ctx,
		`delete from records where entity = $1 and store_id = $2 and id = $3`, entity, tenantID, id))
}

func marshalData(data map[string]any) ([]byte, error) {
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	return raw, nil
}
