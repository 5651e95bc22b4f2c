package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"trafi.io/internal/audit"
)

var (
	_ audit.Sink   = (*Store)(nil)
	_ audit.Reader = (*Store)(nil)
)

// AppendAuditLog inserts one entry. audit_logs is append-only.
func (s *Store) AppendAuditLog(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs (id, store_id, user_id, request_id, action, resource, status,
			duration_ms, ip_address, user_agent, error_message, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.StoreID, e.UserID, e.RequestID, e.Action, e.Resource, string(e.Status),
		e.DurationMs, nullIfEmpty(e.IPAddress), nullIfEmpty(e.UserAgent), nullIfEmpty(e.ErrorMessage),
		meta, e.CreatedAt.UTC())
	return mapWriteErr(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, q audit.Query) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		where = []string{"store_id = $1"}
		args  = []any{storeID}
		idx   = 2
	)
	if q.Resource != "" {
		where = append(where, fmt.Sprintf("resource = $%d", idx))
		args = append(args, q.Resource)
		idx++
	}
	if q.UserID != "" {
		where = append(where, fmt.Sprintf("user_id = $%d", idx))
		args = append(args, q.UserID)
		idx++
	}
	query := `
		select id, store_id, user_id, request_id, action, resource, status, duration_ms,
			coalesce(ip_address, ''), coalesce(user_agent, ''), coalesce(error_message, ''),
			metadata, created_at
		from audit_logs
		where ` + strings.Join(where, " and ") + `
		order by created_at desc, id desc`
	if q.Limit > 0 {
		query += fmt.Sprintf(" limit $%d", idx)
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			rawMeta []byte
		)
		if err := rows.Scan(&e.ID, &e.StoreID, &e.UserID, &e.RequestID, &e.Action, &e.Resource, &e.Status,
			&e.DurationMs, &e.IPAddress, &e.UserAgent, &e.ErrorMessage, &rawMeta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = map[string]any{}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
