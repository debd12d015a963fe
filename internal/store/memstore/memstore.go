// Package memstore is an in-process auth.Store used in development and tests.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"qazna.org/superadmin/internal/auth"
	"qazna.org/superadmin/internal/ids"
)

// Store implements auth.Store with in-process concurrency safety. State is lost on exit.
type Store struct {
	mu      sync.RWMutex
	accts   map[string]*auth.Account
	byEmail map[string]string
	grants  map[string]map[auth.Permission]auth.Grant
	audit   []auth.AuditEntry
	now     func() time.Time
}

var _ auth.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accts:   make(map[string]*auth.Account),
		byEmail: make(map[string]string),
		grants:  make(map[string]map[auth.Permission]auth.Grant),
		now:     time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) CreateAccount(_ context.Context, acct *auth.Account, perms auth.PermissionSet, grantedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[acct.Email]; ok {
		return auth.ErrConflict
	}
	if acct.ID == "" {
		acct.ID = ids.New()
	}
	if _, ok := s.accts[acct.ID]; ok {
		return auth.ErrConflict
	}
	now := s.now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = acct.CreatedAt
	stored := *acct
	s.accts[acct.ID] = &stored
	s.byEmail[acct.Email] = acct.ID
	s.grants[acct.ID] = newGrantRows(acct.ID, perms, grantedBy, now)
	return nil
}

func (s *Store) AccountByID(_ context.Context, id string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accts[id]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return copyAccount(acct), nil
}

func (s *Store) AccountByEmail(_ context.Context, email string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return copyAccount(s.accts[id]), nil
}

func (s *Store) ListAccounts(context.Context) ([]auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Account, 0, len(s.accts))
	for _, acct := range s.accts {
		out = append(out, copyAccount(acct))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CountAccounts(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accts), nil
}

func (s *Store) UpdateAccount(_ context.Context, id string, upd auth.AccountUpdate) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accts[id]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	applyUpdate(acct, upd)
	acct.UpdatedAt = s.now().UTC()
	return copyAccount(acct), nil
}

func applyUpdate(acct *auth.Account, upd auth.AccountUpdate) {
	if upd.Name != nil {
		acct.Name = *upd.Name
	}
	if upd.IsActive != nil {
		acct.IsActive = *upd.IsActive
	}
	if upd.PasswordHash != nil {
		acct.PasswordHash = *upd.PasswordHash
	}
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accts[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.byEmail, acct.Email)
	delete(s.accts, id)
	delete(s.grants, id)
	return nil
}

// RecordLoginFailure increments under the write lock, so concurrent failures are
// never lost.
func (s *Store) RecordLoginFailure(_ context.Context, id string, threshold int, lockUntil time.Time) (auth.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accts[id]
	if !ok {
		return auth.LockoutState{}, auth.ErrNotFound
	}
	acct.FailedLoginAttempts++
	if acct.FailedLoginAttempts >= threshold {
		until := lockUntil.UTC()
		acct.LockedUntil = &until
	}
	acct.UpdatedAt = s.now().UTC()
	return auth.LockoutState{Attempts: acct.FailedLoginAttempts, LockedUntil: copyTime(acct.LockedUntil)}, nil
}

func (s *Store) RecordLoginSuccess(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accts[id]
	if !ok {
		return auth.ErrNotFound
	}
	at = at.UTC()
	acct.FailedLoginAttempts = 0
	acct.LockedUntil = nil
	acct.LastLoginAt = &at
	acct.UpdatedAt = at
	return nil
}

func (s *Store) Unlock(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accts[id]
	if !ok {
		return auth.ErrNotFound
	}
	acct.FailedLoginAttempts = 0
	acct.LockedUntil = nil
	acct.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) Grants(_ context.Context, userID string) ([]auth.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accts[userID]; !ok {
		return nil, auth.ErrNotFound
	}
	rows := s.grants[userID]
	out := make([]auth.Grant, 0, len(rows))
	for _, g := range rows {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b auth.Grant) int { return cmp.Compare(a.Permission, b.Permission) })
	return out, nil
}

// UpdateAccountGrants applies cols, role and grants under one lock acquisition.
func (s *Store) UpdateAccountGrants(_ context.Context, id string, cols auth.AccountUpdate, role auth.Role, perms auth.PermissionSet, grantedBy string) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accts[id]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	now := s.now().UTC()
	applyUpdate(acct, cols)
	acct.Role = role
	acct.UpdatedAt = now
	s.grants[id] = newGrantRows(id, perms, grantedBy, now)
	return copyAccount(acct), nil
}

func (s *Store) AddGrant(_ context.Context, g auth.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accts[g.UserID]; !ok {
		return auth.ErrNotFound
	}
	rows := s.grants[g.UserID]
	if rows == nil {
		rows = make(map[auth.Permission]auth.Grant)
		s.grants[g.UserID] = rows
	}
	if _, ok := rows[g.Permission]; ok {
		return nil
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = s.now().UTC()
	}
	rows[g.Permission] = g
	return nil
}

func (s *Store) RemoveGrant(_ context.Context, userID string, p auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.grants[userID]
	if !ok {
		return auth.ErrNotFound
	}
	if _, ok := rows[p]; !ok {
		return auth.ErrNotFound
	}
	delete(rows, p)
	return nil
}

func (s *Store) AppendAudit(_ context.Context, entry *auth.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	stored := *entry
	stored.Metadata = copyMeta(entry.Metadata)
	s.audit = append(s.audit, stored)
	return nil
}

// ListAudit returns matching entries newest first.
func (s *Store) ListAudit(_ context.Context, filter auth.AuditFilter) ([]auth.AuditEntry, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.AuditEntry, 0, filter.Limit)
	for i := len(s.audit) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		e := s.audit[i]
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.UserID != "" && e.ActorUserID != filter.UserID && e.TargetUserID != filter.UserID {
			continue
		}
		e.Metadata = copyMeta(e.Metadata)
		out = append(out, e)
	}
	return out, nil
}

func newGrantRows(userID string, perms auth.PermissionSet, grantedBy string, at time.Time) map[auth.Permission]auth.Grant {
	rows := make(map[auth.Permission]auth.Grant, len(perms))
	for p := range perms {
		rows[p] = auth.Grant{UserID: userID, Permission: p, GrantedBy: grantedBy, GrantedAt: at}
	}
	return rows
}

func copyAccount(a *auth.Account) auth.Account {
	out := *a
	out.LockedUntil = copyTime(a.LockedUntil)
	out.LastLoginAt = copyTime(a.LastLoginAt)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
