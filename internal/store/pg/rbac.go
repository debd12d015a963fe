package pg

import (
	"context"
	"database/sql"
	"errors"

	"qazna.org/superadmin/internal/auth"
)

func (s *Store) Grants(ctx context.Context, userID string) ([]auth.Grant, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from superadmins where id = $1)`, userID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, auth.ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `
		select user_id, permission, coalesce(granted_by, ''), granted_at
		from superadmin_permissions
		where user_id = $1
		order by permission
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Grant
	for rows.Next() {
		var (
			g    auth.Grant
			perm string
		)
		if err := rows.Scan(&g.UserID, &perm, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, err
		}
		g.Permission = auth.Permission(perm)
		result = append(result, g)
	}
	return result, rows.Err()
}

// UpdateAccountGrants applies the column changes, the role and the grant swap in one
// transaction, so a failure never leaves the account half updated or without grants.
func (s *Store) UpdateAccountGrants(ctx context.Context, id string, cols auth.AccountUpdate, role auth.Role, perms auth.PermissionSet, grantedBy string) (auth.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	query, args := updateAccountQuery(id, cols, &role)
	acct, err := scanAccount(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Account{}, mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `delete from superadmin_permissions where user_id = $1`, id); err != nil {
		return auth.Account{}, err
	}
	if err := insertGrants(ctx, tx, id, perms, grantedBy); err != nil {
		return auth.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.Account{}, err
	}
	return acct, nil
}

func (s *Store) AddGrant(ctx context.Context, g auth.Grant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into superadmin_permissions (user_id, permission, granted_by)
		values ($1, $2, $3)
		on conflict (user_id, permission) do nothing
	`, g.UserID, string(g.Permission), nullIfEmpty(g.GrantedBy))
	return mapError(err)
}

func (s *Store) RemoveGrant(ctx context.Context, userID string, p auth.Permission) error {
	res, err := s.db.ExecContext(ctx, `delete from superadmin_permissions where user_id = $1 and permission = $2`,
		userID, string(p))
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func insertGrants(ctx context.Context, tx *sql.Tx, userID string, perms auth.PermissionSet, grantedBy string) error {
	if len(perms) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		insert into superadmin_permissions (user_id, permission, granted_by)
		values ($1, $2, $3)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	by := nullIfEmpty(grantedBy)
	for _, p := range perms.Sorted() {
		if _, err := stmt.ExecContext(ctx, userID, string(p), by); err != nil {
			return mapError(err)
		}
	}
	return nil
}
