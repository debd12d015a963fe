package auth

import (
	"errors"
	"slices"
	"testing"
)

func TestRoleDefaults(t *testing.T) {
	cases := map[Role][]Permission{
		RoleSuperAdmin:   AllPermissions(),
		RoleReadOnly:     {PermAccessMonitoring},
		RoleBillingAdmin: {PermManageBilling},
		RoleSupport:      {PermImpersonateTenants, PermAccessMonitoring},
		RoleDevOps:       {PermAccessMonitoring, PermConfigureSystem},
	}
	for role, want := range cases {
		if got := DefaultPermissions(role); !got.Equal(NewPermissionSet(want...)) {
			t.Fatalf("%s: got %v want %v", role, got.Sorted(), want)
		}
	}
	if len(Roles()) != len(cases) {
		t.Fatalf("unexpected role count %d", len(Roles()))
	}
}

func TestResolveIsDeduplicatedUnion(t *testing.T) {
	got := Resolve(RoleSupport, PermAccessMonitoring, PermDeleteTenants, PermDeleteTenants)
	want := NewPermissionSet(PermImpersonateTenants, PermAccessMonitoring, PermDeleteTenants)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got.Sorted(), want.Sorted())
	}
	if !slices.IsSorted(got.Strings()) {
		t.Fatalf("Strings must be sorted: %v", got.Strings())
	}
}

func TestResolveDoesNotMutateDefaults(t *testing.T) {
	_ = Resolve(RoleReadOnly, PermConfigureSystem)
	if DefaultPermissions(RoleReadOnly).Has(PermConfigureSystem) {
		t.Fatalf("role defaults were mutated")
	}
}

func TestHasAnyUsesOrSemantics(t *testing.T) {
	sess := Session{Permissions: NewPermissionSet(PermManageBilling)}
	if !sess.HasAny(PermManageSuperadmins, PermManageBilling) {
		t.Fatalf("expected match on any permission")
	}
	if sess.HasAny(PermManageSuperadmins) {
		t.Fatalf("unexpected match")
	}
	if sess.HasAny() {
		t.Fatalf("empty requirement must not match")
	}
}

func TestParsePermissionsRejectsUnknown(t *testing.T) {
	set, err := ParsePermissions([]string{" Manage_Billing ", "manage_billing"})
	if err != nil || !set.Equal(NewPermissionSet(PermManageBilling)) {
		t.Fatalf("unexpected parse result %v, %v", set, err)
	}
	if _, err := ParsePermissions([]string{"drop_tables"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := ParseRole("owner"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for role, got %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  A@B.Com "); got != "a@b.com" {
		t.Fatalf("got %q", got)
	}
}
