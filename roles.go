package authcore

import (
	"errors"
	"sort"
	"sync"
)

// RoleManager maps role names to permission name sets. Roles are
// registered during setup and frozen by Build; after that every lookup is
// a read-only map access.
type RoleManager struct {
	mu     sync.RWMutex
	roles  map[string][]string
	frozen bool
}

func NewRoleManager() *RoleManager {
	return &RoleManager{roles: make(map[string][]string)}
}

// RegisterRole adds a role with its permission list. Duplicate permission
// names collapse; the stored list is sorted so token payloads are
// deterministic.
func (rm *RoleManager) RegisterRole(roleName string, permissions []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if roleName == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.roles[roleName]; exists {
		return errors.New("role already registered: " + roleName)
	}

	seen := make(map[string]struct{}, len(permissions))
	out := make([]string, 0, len(permissions))
	for _, perm := range permissions {
		if perm == "" {
			return errors.New("empty permission name in role " + roleName)
		}
		if _, dup := seen[perm]; dup {
			continue
		}
		seen[perm] = struct{}{}
		out = append(out, perm)
	}
	sort.Strings(out)

	rm.roles[roleName] = out
	return nil
}

// Permissions expands a role list into the merged, sorted permission set.
// Unknown roles contribute nothing.
func (rm *RoleManager) Permissions(roles []string) []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, role := range roles {
		for _, perm := range rm.roles[role] {
			if _, dup := seen[perm]; dup {
				continue
			}
			seen[perm] = struct{}{}
			out = append(out, perm)
		}
	}
	sort.Strings(out)
	return out
}

// Known reports whether the role was registered.
func (rm *RoleManager) Known(roleName string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.roles[roleName]
	return ok
}

// Freeze makes the manager immutable. Build calls this.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}
