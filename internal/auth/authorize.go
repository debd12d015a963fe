package auth

import (
	"slices"
	"strings"
	"time"
)

// PermissionSet is an unordered, duplicate-free collection of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet constructs a set from perms.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set.Add(p)
	}
	return set
}

func (s PermissionSet) Add(p Permission) {
	if p != "" {
		s[p] = struct{}{}
	}
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// HasAny reports whether at least one of perms is present. An empty list never matches.
func (s PermissionSet) HasAny(perms ...Permission) bool {
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// Union returns a new set containing the members of s and other.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for p := range s {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

// Sorted returns the members in lexical order, for stable serialization.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Strings is Sorted as plain strings.
func (s PermissionSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, p := range sorted {
		out[i] = string(p)
	}
	return out
}

// Session is the verified content of a session token. It is a snapshot taken at
// issuance and is never refreshed from the store.
type Session struct {
	ID          string
	UserID      string
	Email       string
	Role        Role
	Permissions PermissionSet
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// HasAny reports whether the session carries at least one of perms.
func (s Session) HasAny(perms ...Permission) bool {
	return s.Permissions.HasAny(perms...)
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
