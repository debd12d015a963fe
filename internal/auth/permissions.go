package auth

import (
	"slices"
	"strings"
)

// Permission is a capability from the fixed platform catalog.
type Permission string

const (
	PermCreateTenants      Permission = "create_tenants"
	PermDeleteTenants      Permission = "delete_tenants"
	PermManageBilling      Permission = "manage_billing"
	PermAccessMonitoring   Permission = "access_monitoring"
	PermManageSuperadmins  Permission = "manage_superadmins"
	PermImpersonateTenants Permission = "impersonate_tenants"
	PermConfigureSystem    Permission = "configure_system"
)

// Role is one of the fixed operator roles.
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleReadOnly     Role = "read_only"
	RoleBillingAdmin Role = "billing_admin"
	RoleSupport      Role = "support"
	RoleDevOps       Role = "devops"
)

var allPermissions = []Permission{
	PermCreateTenants,
	PermDeleteTenants,
	PermManageBilling,
	PermAccessMonitoring,
	PermManageSuperadmins,
	PermImpersonateTenants,
	PermConfigureSystem,
}

var permissionDescriptions = map[Permission]string{
	PermCreateTenants:      "Provision new tenants",
	PermDeleteTenants:      "Deprovision tenants",
	PermManageBilling:      "Manage plans and invoices",
	PermAccessMonitoring:   "View dashboards, monitoring and audit logs",
	PermManageSuperadmins:  "Create, update and remove operator accounts",
	PermImpersonateTenants: "Act on behalf of tenant users",
	PermConfigureSystem:    "Change platform configuration",
}

var roleDefaults = map[Role][]Permission{
	RoleSuperAdmin:   allPermissions,
	RoleReadOnly:     {PermAccessMonitoring},
	RoleBillingAdmin: {PermManageBilling},
	RoleSupport:      {PermImpersonateTenants, PermAccessMonitoring},
	RoleDevOps:       {PermAccessMonitoring, PermConfigureSystem},
}

var roleOrder = []Role{RoleSuperAdmin, RoleReadOnly, RoleBillingAdmin, RoleSupport, RoleDevOps}

// AllPermissions returns the catalog in declaration order.
func AllPermissions() []Permission { return slices.Clone(allPermissions) }

// Roles returns the role catalog in declaration order.
func Roles() []Role { return slices.Clone(roleOrder) }

// Description returns a human readable summary of p.
func (p Permission) Description() string { return permissionDescriptions[p] }

// Valid reports whether p belongs to the catalog.
func (p Permission) Valid() bool {
	_, ok := permissionDescriptions[p]
	return ok
}

// Valid reports whether r belongs to the catalog.
func (r Role) Valid() bool {
	_, ok := roleDefaults[r]
	return ok
}

// ParsePermission normalizes and validates a permission name.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", invalid("unknown permission %q", s)
	}
	return p, nil
}

// ParsePermissions validates every entry; duplicates collapse.
func ParsePermissions(in []string) (PermissionSet, error) {
	set := make(PermissionSet, len(in))
	for _, s := range in {
		p, err := ParsePermission(s)
		if err != nil {
			return nil, err
		}
		set.Add(p)
	}
	return set, nil
}

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", invalid("unknown role %q", s)
	}
	return r, nil
}

// DefaultPermissions returns the permissions every holder of role receives.
func DefaultPermissions(role Role) PermissionSet {
	return NewPermissionSet(roleDefaults[role]...)
}

// Resolve computes the effective permission set: role defaults united with custom grants.
func Resolve(role Role, custom ...Permission) PermissionSet {
	set := DefaultPermissions(role)
	for _, p := range custom {
		set.Add(p)
	}
	return set
}
