package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"qazna.org/superadmin/internal/auth"
	"qazna.org/superadmin/internal/ids"
)

// AppendAudit inserts one immutable entry. The table has no update or delete path.
func (s *Store) AppendAudit(ctx context.Context, entry *auth.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	meta := []byte("{}")
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = raw
	}
	row := s.db.QueryRowContext(ctx, `
		insert into audit_log (id, occurred_at, actor_user_id, action, target_tenant_id, target_user_id,
			ip, user_agent, success, failure_reason, request_id, metadata)
		values ($1, coalesce($2, now()), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		returning occurred_at
	`, entry.ID, nullTime(entry), nullIfEmpty(entry.ActorUserID), entry.Action, nullIfEmpty(entry.TargetTenantID),
		nullIfEmpty(entry.TargetUserID), nullIfEmpty(entry.IP), nullIfEmpty(entry.UserAgent), entry.Success,
		nullIfEmpty(entry.FailureReason), nullIfEmpty(entry.RequestID), meta)
	return row.Scan(&entry.OccurredAt)
}

// ListAudit returns entries newest first. UserID matches either actor or target.
func (s *Store) ListAudit(ctx context.Context, filter auth.AuditFilter) ([]auth.AuditEntry, error) {
	filter = filter.Normalize()
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("(actor_user_id = $%d or target_user_id = $%d)", len(args), len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	query := `
		select id, occurred_at, coalesce(actor_user_id, ''), action, coalesce(target_tenant_id, ''),
			coalesce(target_user_id, ''), coalesce(ip, ''), coalesce(user_agent, ''), success,
			coalesce(failure_reason, ''), coalesce(request_id, ''), metadata
		from audit_log`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" order by occurred_at desc, id desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.AuditEntry
	for rows.Next() {
		var (
			e   auth.AuditEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.ActorUserID, &e.Action, &e.TargetTenantID, &e.TargetUserID,
			&e.IP, &e.UserAgent, &e.Success, &e.FailureReason, &e.RequestID, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 && string(raw) != "{}" {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func nullTime(e *auth.AuditEntry) sql.NullTime {
	if e.OccurredAt.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: e.OccurredAt.UTC(), Valid: true}
}
