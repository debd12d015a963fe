package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"qazna.org/superadmin/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
)

// Store is the Postgres auth.Store.
type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

// Open connects with the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const accountColumns = `id, email, name, password_hash, is_active, is_super_admin, role,
	failed_login_attempts, locked_until, last_login_at, coalesce(created_by, ''), created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (auth.Account, error) {
	var (
		acct   auth.Account
		role   string
		locked sql.NullTime
		last   sql.NullTime
	)
	err := row.Scan(&acct.ID, &acct.Email, &acct.Name, &acct.PasswordHash, &acct.IsActive, &acct.IsSuperAdmin,
		&role, &acct.FailedLoginAttempts, &locked, &last, &acct.CreatedBy, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return auth.Account{}, err
	}
	acct.Role = auth.Role(role)
	acct.LockedUntil = timePtr(locked)
	acct.LastLoginAt = timePtr(last)
	return acct, nil
}

// CreateAccount inserts the account and its grant rows in one transaction.
func (s *Store) CreateAccount(ctx context.Context, acct *auth.Account, perms auth.PermissionSet, grantedBy string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into superadmins (id, email, name, password_hash, is_active, is_super_admin, role, created_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, acct.ID, acct.Email, acct.Name, acct.PasswordHash, acct.IsActive, acct.IsSuperAdmin, string(acct.Role), nullIfEmpty(acct.CreatedBy))
	if err := row.Scan(&acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return mapError(err)
	}
	if err := insertGrants(ctx, tx, acct.ID, perms, grantedBy); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AccountByID(ctx context.Context, id string) (auth.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from superadmins where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	return acct, err
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (auth.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from superadmins where email = $1`,
		auth.NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	return acct, err
}

func (s *Store) ListAccounts(ctx context.Context) ([]auth.Account, error) {
	rows, err := s.db.QueryContext(ctx, `select `+accountColumns+` from superadmins order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from superadmins`).Scan(&n)
	return n, err
}

// UpdateAccount builds the SET list from placeholders only.
func (s *Store) UpdateAccount(ctx context.Context, id string, upd auth.AccountUpdate) (auth.Account, error) {
	if upd.Empty() {
		return s.AccountByID(ctx, id)
	}
	query, args := updateAccountQuery(id, upd, nil)
	acct, err := scanAccount(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Account{}, mapError(err)
	}
	return acct, nil
}

// updateAccountQuery returns an update ... returning statement for the non-nil fields
// of upd, plus role when given. Values are always bound as placeholders.
func updateAccountQuery(id string, upd auth.AccountUpdate, role *auth.Role) (string, []any) {
	var (
		setClauses []string
		args       []any
	)
	set := func(column string, v any) {
		args = append(args, v)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.IsActive != nil {
		set("is_active", *upd.IsActive)
	}
	if upd.PasswordHash != nil {
		set("password_hash", *upd.PasswordHash)
	}
	if role != nil {
		set("role", string(*role))
	}
	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(`update superadmins set %s where id = $%d returning %s`,
		strings.Join(setClauses, ", "), len(args), accountColumns)
	return query, args
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from superadmins where id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// RecordLoginFailure increments and conditionally locks in a single statement, so
// concurrent failures cannot overwrite each other's count.
func (s *Store) RecordLoginFailure(ctx context.Context, id string, threshold int, lockUntil time.Time) (auth.LockoutState, error) {
	var (
		state  auth.LockoutState
		locked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		update superadmins
		set failed_login_attempts = failed_login_attempts + 1,
		    locked_until = case when failed_login_attempts + 1 >= $2 then $3 else locked_until end,
		    updated_at = now()
		where id = $1
		returning failed_login_attempts, locked_until
	`, id, threshold, lockUntil.UTC()).Scan(&state.Attempts, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.LockoutState{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.LockoutState{}, err
	}
	state.LockedUntil = timePtr(locked)
	return state, nil
}

func (s *Store) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update superadmins
		set failed_login_attempts = 0, locked_until = null, last_login_at = $2, updated_at = now()
		where id = $1
	`, id, at.UTC())
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) Unlock(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update superadmins
		set failed_login_attempts = 0, locked_until = null, updated_at = now()
		where id = $1
	`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return auth.ErrConflict
	case pgErrForeignKeyViolation:
		return auth.ErrNotFound
	case pgErrCheckViolation:
		return fmt.Errorf("%w: %s", auth.ErrValidation, pgErr.ConstraintName)
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
