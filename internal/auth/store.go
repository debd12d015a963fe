package auth

import (
	"context"
	"time"
)

// AccountStore persists operator accounts and their lockout state.
type AccountStore interface {
	// CreateAccount inserts acct and its initial grants in one unit of work.
	CreateAccount(ctx context.Context, acct *Account, grants PermissionSet, grantedBy string) error
	AccountByID(ctx context.Context, id string) (Account, error)
	// AccountByEmail expects an already normalized address.
	AccountByEmail(ctx context.Context, email string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	CountAccounts(ctx context.Context) (int, error)
	UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (Account, error)
	DeleteAccount(ctx context.Context, id string) error

	// RecordLoginFailure atomically increments the failed attempt counter and, when
	// the new value reaches threshold, sets locked_until to lockUntil.
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockUntil time.Time) (LockoutState, error)
	// RecordLoginSuccess clears the counter and lock and stamps last_login_at.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
	// Unlock clears the counter and lock without touching last_login_at.
	Unlock(ctx context.Context, id string) error
}

// GrantStore persists permission grants.
type GrantStore interface {
	Grants(ctx context.Context, userID string) ([]Grant, error)
	// UpdateAccountGrants applies cols, sets the role and replaces every grant row with
	// perms. Either every change is stored or none is.
	UpdateAccountGrants(ctx context.Context, id string, cols AccountUpdate, role Role, perms PermissionSet, grantedBy string) (Account, error)
	AddGrant(ctx context.Context, g Grant) error
	RemoveGrant(ctx context.Context, userID string, p Permission) error
}

// AuditStore appends and reads immutable entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// Store is the credential store used by Service.
type Store interface {
	AccountStore
	GrantStore
	AuditStore
	Ping(ctx context.Context) error
	Close() error
}

// Auditor records audit entries. Implementations must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry)
}
