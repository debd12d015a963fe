package auth

import "time"

// Account is a platform-operator identity record.
type Account struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Name                string     `json:"name,omitempty"`
	PasswordHash        string     `json:"-"`
	IsActive            bool       `json:"is_active"`
	IsSuperAdmin        bool       `json:"is_super_admin"`
	Role                Role       `json:"role"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedBy           string     `json:"created_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// AccountUpdate carries optional column changes. Role changes go through
// UpdateAccountGrants.
type AccountUpdate struct {
	Name         *string
	IsActive     *bool
	PasswordHash *string
}

// Empty reports whether upd changes no column.
func (upd AccountUpdate) Empty() bool {
	return upd.Name == nil && upd.IsActive == nil && upd.PasswordHash == nil
}

// LockoutState is the persisted (attempts, locked_until) pair.
type LockoutState struct {
	Attempts    int
	LockedUntil *time.Time
}

// Grant is one stored permission row for an account.
type Grant struct {
	UserID     string     `json:"user_id"`
	Permission Permission `json:"permission"`
	GrantedBy  string     `json:"granted_by,omitempty"`
	GrantedAt  time.Time  `json:"granted_at"`
}

// Audit actions.
const (
	ActionLoginSuccess         = "login.success"
	ActionLoginFailure         = "login.failure"
	ActionLoginLocked          = "login.locked"
	ActionLogout               = "logout"
	ActionPasswordChange       = "password.change"
	ActionSuperadminCreate     = "superadmin.create"
	ActionSuperadminUpdate     = "superadmin.update"
	ActionSuperadminDeactivate = "superadmin.deactivate"
	ActionSuperadminDelete     = "superadmin.delete"
	ActionSuperadminUnlock     = "superadmin.unlock"
	ActionPermissionGrant      = "permission.grant"
	ActionPermissionRevoke     = "permission.revoke"
)

// Audit failure reasons.
const (
	ReasonAccountNotFound        = "account_not_found"
	ReasonAccountInactive        = "account_inactive"
	ReasonInvalidPassword        = "invalid_password"
	ReasonAccountLocked          = "account_locked"
	ReasonInvalidCurrentPassword = "invalid_current_password"
	ReasonPasswordPolicy         = "password_policy"
	ReasonInvalidInput           = "invalid_input"
	ReasonNotFound               = "not_found"
	ReasonConflict               = "conflict"
	ReasonForbidden              = "forbidden"
	ReasonInternal               = "internal_error"
)

// AuditEntry is an append-only record of a security relevant action.
type AuditEntry struct {
	ID             string            `json:"id"`
	OccurredAt     time.Time         `json:"occurred_at"`
	ActorUserID    string            `json:"actor_user_id,omitempty"`
	Action         string            `json:"action"`
	TargetTenantID string            `json:"target_tenant_id,omitempty"`
	TargetUserID   string            `json:"target_user_id,omitempty"`
	IP             string            `json:"ip,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	Success        bool              `json:"success"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// AuditFilter narrows audit log queries. UserID matches actor or target.
type AuditFilter struct {
	UserID string
	Action string
	Limit  int
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

// Normalize applies limit defaults and bounds.
func (f AuditFilter) Normalize() AuditFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultAuditLimit
	case f.Limit > maxAuditLimit:
		f.Limit = maxAuditLimit
	}
	return f
}
