package authcore

import (
	"slices"
	"testing"
)

func TestRegisterRoleDeduplicatesAndSorts(t *testing.T) {
	rm := NewRoleManager()
	if err := rm.RegisterRole("editor", []string{"posts.write", "posts.read", "posts.write"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	perms := rm.Permissions([]string{"editor"})
	want := []string{"posts.read", "posts.write"}
	if !slices.Equal(perms, want) {
		t.Fatalf("permissions = %v, want %v", perms, want)
	}
}

func TestRegisterRoleRejections(t *testing.T) {
	rm := NewRoleManager()
	if err := rm.RegisterRole("", []string{"x"}); err == nil {
		t.Fatal("empty role name must be rejected")
	}
	if err := rm.RegisterRole("user", []string{""}); err == nil {
		t.Fatal("empty permission name must be rejected")
	}
	if err := rm.RegisterRole("user", []string{"users.read"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := rm.RegisterRole("user", []string{"users.read"}); err == nil {
		t.Fatal("duplicate role must be rejected")
	}
}

func TestPermissionsMergesRoles(t *testing.T) {
	rm := NewRoleManager()
	mustRegister(t, rm, "user", []string{"users.read", "posts.read"})
	mustRegister(t, rm, "admin", []string{"users.read", "admin.panel"})

	perms := rm.Permissions([]string{"user", "admin", "ghost"})
	want := []string{"admin.panel", "posts.read", "users.read"}
	if !slices.Equal(perms, want) {
		t.Fatalf("permissions = %v, want %v", perms, want)
	}

	if got := rm.Permissions([]string{"ghost"}); len(got) != 0 {
		t.Fatalf("unknown role contributed %v", got)
	}
}

func TestKnown(t *testing.T) {
	rm := NewRoleManager()
	mustRegister(t, rm, "user", nil)

	if !rm.Known("user") {
		t.Fatal("expected registered role to be known")
	}
	if rm.Known("admin") {
		t.Fatal("unregistered role must be unknown")
	}
}

func TestFreezeBlocksRegistration(t *testing.T) {
	rm := NewRoleManager()
	mustRegister(t, rm, "user", []string{"users.read"})
	rm.Freeze()

	if err := rm.RegisterRole("admin", []string{"admin.panel"}); err == nil {
		t.Fatal("frozen manager must reject registration")
	}
	// Lookups still work after freeze.
	if got := rm.Permissions([]string{"user"}); len(got) != 1 {
		t.Fatalf("permissions after freeze = %v", got)
	}
}

func mustRegister(t *testing.T, rm *RoleManager, role string, perms []string) {
	t.Helper()
	if err := rm.RegisterRole(role, perms); err != nil {
		t.Fatalf("register %s: %v", role, err)
	}
}
