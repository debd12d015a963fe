package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"qazna.org/superadmin/internal/auth"
)

var accountCols = []string{"id", "email", "name", "password_hash", "is_active", "is_super_admin", "role",
	"failed_login_attempts", "locked_until", "last_login_at", "created_by", "created_at", "updated_at"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func verify(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordLoginFailureIsSingleAtomicUpdate(t *testing.T) {
	store, mock := newMock(t)
	until := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`update superadmins\s+set failed_login_attempts = failed_login_attempts \+ 1,\s+locked_until = case when failed_login_attempts \+ 1 >= \$2 then \$3 else locked_until end`).
		WithArgs("u1", 5, until).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}).AddRow(5, until))

	state, err := store.RecordLoginFailure(context.Background(), "u1", 5, until)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if state.Attempts != 5 || state.LockedUntil == nil || !state.LockedUntil.Equal(until) {
		t.Fatalf("unexpected state %+v", state)
	}
	verify(t, mock)
}

func TestRecordLoginFailureUnknownAccount(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(`update superadmins`).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}))
	if _, err := store.RecordLoginFailure(context.Background(), "nope", 5, time.Now()); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestReplaceGrantsRunsInOneTransaction(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`update superadmins set role = \$1, updated_at = now\(\) where id = \$2 returning`).
		WithArgs("devops", "u1").
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("u1", "a@b.com", "Ops", "hash", true, true, "devops", 0, nil, nil, "", now, now))
	mock.ExpectExec(`delete from superadmin_permissions where user_id = \$1`).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 3))
	prep := mock.ExpectPrepare(`insert into superadmin_permissions`)
	prep.ExpectExec().WithArgs("u1", "access_monitoring", "admin-1").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("u1", "configure_system", "admin-1").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := store.UpdateAccountGrants(context.Background(), "u1", auth.AccountUpdate{}, auth.RoleDevOps, auth.DefaultPermissions(auth.RoleDevOps), "admin-1")
	if err != nil {
		t.Fatalf("UpdateAccountGrants: %v", err)
	}
	verify(t, mock)
}

func TestReplaceGrantsRollsBackOnInsertFailure(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`update superadmins set role`).
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("u1", "a@b.com", "Ops", "hash", true, true, "read_only", 0, nil, nil, "", now, now))
	mock.ExpectExec(`delete from superadmin_permissions`).WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`insert into superadmin_permissions`)
	prep.ExpectExec().WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.UpdateAccountGrants(context.Background(), "u1", auth.AccountUpdate{}, auth.RoleReadOnly, auth.DefaultPermissions(auth.RoleReadOnly), "")
	if err == nil {
		t.Fatalf("expected error")
	}
	verify(t, mock)
}

func TestReplaceGrantsUnknownAccount(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`update superadmins set role`).WillReturnRows(sqlmock.NewRows(accountCols))
	mock.ExpectRollback()

	_, err := store.UpdateAccountGrants(context.Background(), "ghost", auth.AccountUpdate{}, auth.RoleReadOnly, nil, "")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestUpdateAccountGrantsSharesOneTransaction(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`update superadmins set name = \$1, role = \$2, updated_at = now\(\) where id = \$3 returning`).
		WithArgs("Renamed", "devops", "u1").
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("u1", "a@b.com", "Renamed", "hash", true, true, "devops", 0, nil, nil, "", now, now))
	mock.ExpectExec(`delete from superadmin_permissions where user_id = \$1`).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 2))
	prep := mock.ExpectPrepare(`insert into superadmin_permissions`)
	prep.ExpectExec().WithArgs("u1", "access_monitoring", "admin-1").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("u1", "configure_system", "admin-1").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	name := "Renamed"
	acct, err := store.UpdateAccountGrants(context.Background(), "u1", auth.AccountUpdate{Name: &name},
		auth.RoleDevOps, auth.DefaultPermissions(auth.RoleDevOps), "admin-1")
	if err != nil {
		t.Fatalf("UpdateAccountGrants: %v", err)
	}
	if acct.Name != "Renamed" || acct.Role != auth.RoleDevOps {
		t.Fatalf("unexpected account %+v", acct)
	}
	verify(t, mock)
}

func TestUpdateAccountGrantsRollsBackColumnsOnGrantFailure(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`update superadmins set name = \$1, role = \$2`).
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("u1", "a@b.com", "Renamed", "hash", true, true, "devops", 0, nil, nil, "", now, now))
	mock.ExpectExec(`delete from superadmin_permissions`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	name := "Renamed"
	_, err := store.UpdateAccountGrants(context.Background(), "u1", auth.AccountUpdate{Name: &name},
		auth.RoleDevOps, auth.DefaultPermissions(auth.RoleDevOps), "")
	if err == nil {
		t.Fatalf("expected error")
	}
	verify(t, mock)
}

func TestCreateAccountDuplicateEmail(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`insert into superadmins`).WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	acct := &auth.Account{ID: "u1", Email: "a@b.com", Role: auth.RoleReadOnly, IsActive: true, IsSuperAdmin: true}
	if err := store.CreateAccount(context.Background(), acct, auth.DefaultPermissions(auth.RoleReadOnly), ""); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	verify(t, mock)
}

func TestAccountByEmailScansNullableColumns(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`from superadmins where email = \$1`).WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("u1", "a@b.com", "Ops", "hash", true, true, "support", 2, nil, now, "", now, now))

	acct, err := store.AccountByEmail(context.Background(), " A@B.com ")
	if err != nil {
		t.Fatalf("AccountByEmail: %v", err)
	}
	if acct.Role != auth.RoleSupport || acct.FailedLoginAttempts != 2 || acct.LockedUntil != nil || acct.LastLoginAt == nil {
		t.Fatalf("unexpected account %+v", acct)
	}
	verify(t, mock)
}

func TestUpdateAccountUsesPlaceholders(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`update superadmins set name = \$1, is_active = \$2, updated_at = now\(\) where id = \$3 returning`).
		WithArgs("Robert'); drop table superadmins;--", false, "u1").
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("u1", "a@b.com", "Robert'); drop table superadmins;--", "hash", false, true, "read_only", 0, nil, nil, "", now, now))

	name := "Robert'); drop table superadmins;--"
	inactive := false
	acct, err := store.UpdateAccount(context.Background(), "u1", auth.AccountUpdate{Name: &name, IsActive: &inactive})
	if err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	if acct.IsActive || acct.Name != name {
		t.Fatalf("unexpected account %+v", acct)
	}
	verify(t, mock)
}

func TestDeleteAccountMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(`delete from superadmins where id = \$1`).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.DeleteAccount(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestAppendAndListAudit(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`insert into audit_log`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), nil, "login.failure", nil, "u1", "10.0.0.1", nil, false,
			"invalid_password", "req-1", []byte(`{"attempts":"1"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"occurred_at"}).AddRow(at))

	entry := &auth.AuditEntry{
		Action:        auth.ActionLoginFailure,
		TargetUserID:  "u1",
		IP:            "10.0.0.1",
		FailureReason: auth.ReasonInvalidPassword,
		RequestID:     "req-1",
		Metadata:      map[string]string{"attempts": "1"},
	}
	if err := store.AppendAudit(context.Background(), entry); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if entry.ID == "" || !entry.OccurredAt.Equal(at) {
		t.Fatalf("entry not populated: %+v", entry)
	}

	mock.ExpectQuery(`from audit_log where \(actor_user_id = \$1 or target_user_id = \$1\) and action = \$2 order by occurred_at desc, id desc limit \$3`).
		WithArgs("u1", "login.failure", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "occurred_at", "actor_user_id", "action", "target_tenant_id",
			"target_user_id", "ip", "user_agent", "success", "failure_reason", "request_id", "metadata"}).
			AddRow(entry.ID, at, "", "login.failure", "", "u1", "10.0.0.1", "", false, "invalid_password", "req-1", []byte(`{"attempts":"1"}`)))

	got, err := store.ListAudit(context.Background(), auth.AuditFilter{UserID: "u1", Action: auth.ActionLoginFailure})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(got) != 1 || got[0].Metadata["attempts"] != "1" || got[0].TargetUserID != "u1" {
		t.Fatalf("unexpected entries %+v", got)
	}
	verify(t, mock)
}
