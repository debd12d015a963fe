package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"qazna.org/superadmin/internal/ids"
)

// Superadmin is an account together with its effective permissions.
type Superadmin struct {
	Account
	Permissions PermissionSet `json:"-"`
}

// NewSuperadmin is the input of an account creation.
type NewSuperadmin struct {
	Email             string
	Password          string
	Name              string
	Role              string
	CustomPermissions []string
}

// SuperadminUpdate carries optional changes. When Role or CustomPermissions is set the
// whole grant set is replaced with defaults(role) ∪ custom; omitted custom permissions
// are dropped, not kept.
type SuperadminUpdate struct {
	Name              *string
	Role              *string
	CustomPermissions *[]string
	IsActive          *bool
	Password          *string
}

// CreateSuperadmin creates an operator account on behalf of actor.
func (s *Service) CreateSuperadmin(ctx context.Context, actor Session, in NewSuperadmin) (Superadmin, error) {
	out, err := s.createAccount(ctx, actor.UserID, in)
	if err != nil {
		s.recordAdmin(ctx, actor.UserID, ActionSuperadminCreate, "", err, map[string]string{"email": NormalizeEmail(in.Email)})
	}
	return out, err
}

func (s *Service) createAccount(ctx context.Context, actorID string, in NewSuperadmin) (Superadmin, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Superadmin{}, invalid("valid email is required")
	}
	role := RoleReadOnly
	if strings.TrimSpace(in.Role) != "" {
		r, err := ParseRole(in.Role)
		if err != nil {
			return Superadmin{}, err
		}
		role = r
	}
	custom, err := ParsePermissions(in.CustomPermissions)
	if err != nil {
		return Superadmin{}, err
	}
	if err := s.passwords.Validate(in.Password); err != nil {
		return Superadmin{}, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Superadmin{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	acct := Account{
		ID:           ids.NewAt(now),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		IsActive:     true,
		IsSuperAdmin: true,
		Role:         role,
		CreatedBy:    actorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	perms := Resolve(role, custom.Sorted()...)
	if err := s.store.CreateAccount(ctx, &acct, perms, actorID); err != nil {
		return Superadmin{}, err
	}
	s.recordAdmin(ctx, actorID, ActionSuperadminCreate, acct.ID, nil, map[string]string{
		"email":       acct.Email,
		"role":        string(role),
		"permissions": strings.Join(perms.Strings(), ","),
	})
	return Superadmin{Account: acct, Permissions: perms}, nil
}

// GetSuperadmin returns one account with its effective permissions.
func (s *Service) GetSuperadmin(ctx context.Context, id string) (Superadmin, error) {
	id, err := trimID(id)
	if err != nil {
		return Superadmin{}, err
	}
	acct, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return Superadmin{}, err
	}
	perms, err := s.EffectivePermissions(ctx, acct)
	if err != nil {
		return Superadmin{}, err
	}
	return Superadmin{Account: acct, Permissions: perms}, nil
}

// ListSuperadmins returns every account ordered by creation.
func (s *Service) ListSuperadmins(ctx context.Context) ([]Superadmin, error) {
	accts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Superadmin, 0, len(accts))
	for _, acct := range accts {
		perms, err := s.EffectivePermissions(ctx, acct)
		if err != nil {
			return nil, err
		}
		out = append(out, Superadmin{Account: acct, Permissions: perms})
	}
	return out, nil
}

// UpdateSuperadmin applies upd to account id.
func (s *Service) UpdateSuperadmin(ctx context.Context, actor Session, id string, upd SuperadminUpdate) (Superadmin, error) {
	out, err := s.updateSuperadmin(ctx, actor, id, upd)
	meta := map[string]string{}
	if upd.Role != nil {
		meta["role"] = strings.TrimSpace(*upd.Role)
	}
	if upd.IsActive != nil {
		meta["is_active"] = fmt.Sprint(*upd.IsActive)
	}
	if upd.Password != nil {
		meta["password_reset"] = "true"
	}
	if err == nil && out.Permissions != nil {
		meta["permissions"] = strings.Join(out.Permissions.Strings(), ",")
	}
	s.recordAdmin(ctx, actor.UserID, ActionSuperadminUpdate, strings.TrimSpace(id), err, meta)
	return out, err
}

func (s *Service) updateSuperadmin(ctx context.Context, actor Session, id string, upd SuperadminUpdate) (Superadmin, error) {
	id, err := trimID(id)
	if err != nil {
		return Superadmin{}, err
	}
	acct, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return Superadmin{}, err
	}

	var cols AccountUpdate
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		cols.Name = &name
	}
	if upd.IsActive != nil {
		if !*upd.IsActive && id == actor.UserID {
			return Superadmin{}, fmt.Errorf("%w: cannot deactivate your own account", ErrForbidden)
		}
		cols.IsActive = upd.IsActive
	}
	if upd.Password != nil {
		if err := s.passwords.Validate(*upd.Password); err != nil {
			return Superadmin{}, err
		}
		hash, err := s.hasher.Hash(*upd.Password)
		if err != nil {
			return Superadmin{}, fmt.Errorf("hash password: %w", err)
		}
		cols.PasswordHash = &hash
	}

	replace := upd.Role != nil || upd.CustomPermissions != nil
	role := acct.Role
	var custom PermissionSet
	if upd.Role != nil {
		if role, err = ParseRole(*upd.Role); err != nil {
			return Superadmin{}, err
		}
	}
	if upd.CustomPermissions != nil {
		if custom, err = ParsePermissions(*upd.CustomPermissions); err != nil {
			return Superadmin{}, err
		}
	}

	if replace {
		perms := Resolve(role, custom.Sorted()...)
		if acct, err = s.store.UpdateAccountGrants(ctx, id, cols, role, perms, actor.UserID); err != nil {
			return Superadmin{}, err
		}
		return Superadmin{Account: acct, Permissions: perms}, nil
	}
	if !cols.Empty() {
		if acct, err = s.store.UpdateAccount(ctx, id, cols); err != nil {
			return Superadmin{}, err
		}
	}
	perms, err := s.EffectivePermissions(ctx, acct)
	if err != nil {
		return Superadmin{}, err
	}
	return Superadmin{Account: acct, Permissions: perms}, nil
}

// DeactivateSuperadmin disables login for id. Operators cannot deactivate themselves.
func (s *Service) DeactivateSuperadmin(ctx context.Context, actor Session, id string) error {
	err := s.deactivate(ctx, actor, id)
	s.recordAdmin(ctx, actor.UserID, ActionSuperadminDeactivate, strings.TrimSpace(id), err, nil)
	return err
}

func (s *Service) deactivate(ctx context.Context, actor Session, id string) error {
	id, err := trimID(id)
	if err != nil {
		return err
	}
	if id == actor.UserID {
		return fmt.Errorf("%w: cannot deactivate your own account", ErrForbidden)
	}
	inactive := false
	_, err = s.store.UpdateAccount(ctx, id, AccountUpdate{IsActive: &inactive})
	return err
}

// DeleteSuperadmin removes id and its grants. Operators cannot delete themselves.
func (s *Service) DeleteSuperadmin(ctx context.Context, actor Session, id string) error {
	err := s.removeAccount(ctx, actor, id)
	s.recordAdmin(ctx, actor.UserID, ActionSuperadminDelete, strings.TrimSpace(id), err, nil)
	return err
}

func (s *Service) removeAccount(ctx context.Context, actor Session, id string) error {
	id, err := trimID(id)
	if err != nil {
		return err
	}
	if id == actor.UserID {
		return fmt.Errorf("%w: cannot delete your own account", ErrForbidden)
	}
	return s.store.DeleteAccount(ctx, id)
}

// UnlockSuperadmin clears the failed attempt counter and any lock on id.
func (s *Service) UnlockSuperadmin(ctx context.Context, actor Session, id string) error {
	id = strings.TrimSpace(id)
	var err error
	if id == "" {
		err = invalid("id is required")
	} else {
		err = s.store.Unlock(ctx, id)
	}
	s.recordAdmin(ctx, actor.UserID, ActionSuperadminUnlock, id, err, nil)
	return err
}

// GrantPermission adds a single custom permission to id.
func (s *Service) GrantPermission(ctx context.Context, actor Session, id, permission string) (Superadmin, error) {
	out, err := s.grant(ctx, actor, id, permission)
	s.recordAdmin(ctx, actor.UserID, ActionPermissionGrant, strings.TrimSpace(id), err,
		map[string]string{"permission": strings.TrimSpace(permission)})
	return out, err
}

func (s *Service) grant(ctx context.Context, actor Session, id, permission string) (Superadmin, error) {
	id, err := trimID(id)
	if err != nil {
		return Superadmin{}, err
	}
	p, err := ParsePermission(permission)
	if err != nil {
		return Superadmin{}, err
	}
	acct, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return Superadmin{}, err
	}
	if err := s.store.AddGrant(ctx, Grant{UserID: id, Permission: p, GrantedBy: actor.UserID, GrantedAt: s.now().UTC()}); err != nil {
		return Superadmin{}, err
	}
	perms, err := s.EffectivePermissions(ctx, acct)
	if err != nil {
		return Superadmin{}, err
	}
	return Superadmin{Account: acct, Permissions: perms}, nil
}

// RevokePermission removes a custom permission from id. Role defaults cannot be revoked
// individually; change the role instead.
func (s *Service) RevokePermission(ctx context.Context, actor Session, id, permission string) (Superadmin, error) {
	out, err := s.revoke(ctx, id, permission)
	s.recordAdmin(ctx, actor.UserID, ActionPermissionRevoke, strings.TrimSpace(id), err,
		map[string]string{"permission": strings.TrimSpace(permission)})
	return out, err
}

func (s *Service) revoke(ctx context.Context, id, permission string) (Superadmin, error) {
	id, err := trimID(id)
	if err != nil {
		return Superadmin{}, err
	}
	p, err := ParsePermission(permission)
	if err != nil {
		return Superadmin{}, err
	}
	acct, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return Superadmin{}, err
	}
	if DefaultPermissions(acct.Role).Has(p) {
		return Superadmin{}, invalid("%s is a default permission of role %s", p, acct.Role)
	}
	if err := s.store.RemoveGrant(ctx, id, p); err != nil {
		return Superadmin{}, err
	}
	perms, err := s.EffectivePermissions(ctx, acct)
	if err != nil {
		return Superadmin{}, err
	}
	return Superadmin{Account: acct, Permissions: perms}, nil
}

// AuditLog lists audit entries newest first.
func (s *Service) AuditLog(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	filter.Action = strings.TrimSpace(filter.Action)
	return s.store.ListAudit(ctx, filter.Normalize())
}

func (s *Service) recordAdmin(ctx context.Context, actorID, action, target string, err error, meta map[string]string) {
	s.auditor.Record(ctx, AuditEntry{
		ActorUserID:   actorID,
		Action:        action,
		TargetUserID:  target,
		Success:       err == nil,
		FailureReason: failureReason(err),
		Metadata:      meta,
	})
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return ReasonInvalidInput
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrConflict):
		return ReasonConflict
	case errors.Is(err, ErrForbidden):
		return ReasonForbidden
	default:
		return ReasonInternal
	}
}
