package rbac

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a map-backed Store with the same semantics as PGStore.
// It backs the memory store driver and tests.
type MemoryStore struct {
	mu          sync.Mutex
	roles       map[int64]Role
	permissions map[int64]Permission
	assignments map[int64]map[int64]Assignment
	nextRoleID  int64
	unavailable bool
	calls       map[string]int
	now         func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:       make(map[int64]Role),
		permissions: make(map[int64]Permission),
		assignments: make(map[int64]map[int64]Assignment),
		calls:       make(map[string]int),
		now:         time.Now,
	}
}

// errMemoryDown is the cause reported while the store is marked unavailable.
var errMemoryDown = errors.New("memory store marked unavailable")

// PutRole inserts or replaces a role with an explicit ID.
func (s *MemoryStore) PutRole(role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = s.now()
	}
	s.roles[role.ID] = role
	if role.ID > s.nextRoleID {
		s.nextRoleID = role.ID
	}
}

// PutPermission inserts or replaces a permission with an explicit ID.
func (s *MemoryStore) PutPermission(perm Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[perm.ID] = perm
}

// SetUnavailable toggles simulated I/O failure for every operation.
func (s *MemoryStore) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// Calls returns how many times the named method was invoked.
func (s *MemoryStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *MemoryStore) enter(method string) error {
	s.calls[method]++
	if s.unavailable {
		return unavailable(method, errMemoryDown)
	}
	return nil
}

// PermissionsForRole returns the role's permissions ordered by name.
func (s *MemoryStore) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("PermissionsForRole"); err != nil {
		return nil, err
	}
	perms := make([]Permission, 0, len(s.assignments[roleID]))
	for permID := range s.assignments[roleID] {
		if perm, ok := s.permissions[permID]; ok {
			perms = append(perms, perm)
		}
	}
	sortPermissions(perms)
	return perms, nil
}

// RoleByID fetches a role by ID.
func (s *MemoryStore) RoleByID(ctx context.Context, id int64) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("RoleByID"); err != nil {
		return Role{}, err
	}
	role, ok := s.roles[id]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return role, nil
}

// RoleByName fetches a role by name.
func (s *MemoryStore) RoleByName(ctx context.Context, name string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("RoleByName"); err != nil {
		return Role{}, err
	}
	for _, role := range s.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return Role{}, ErrRoleNotFound
}

// ListRoles returns all roles ordered by name.
func (s *MemoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListRoles"); err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(s.roles))
	for _, role := range s.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// ListPermissions returns all permissions ordered by name.
func (s *MemoryStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListPermissions"); err != nil {
		return nil, err
	}
	perms := make([]Permission, 0, len(s.permissions))
	for _, perm := range s.permissions {
		perms = append(perms, perm)
	}
	sortPermissions(perms)
	return perms, nil
}

// PermissionByID fetches a permission by ID.
func (s *MemoryStore) PermissionByID(ctx context.Context, id int64) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("PermissionByID"); err != nil {
		return Permission{}, err
	}
	perm, ok := s.permissions[id]
	if !ok {
		return Permission{}, ErrPermissionNotFound
	}
	return perm, nil
}

// CreateRole inserts a role with the next free ID.
func (s *MemoryStore) CreateRole(ctx context.Context, name string, description *string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateRole"); err != nil {
		return Role{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, ErrInvalidRoleName
	}
	for _, role := range s.roles {
		if role.Name == name {
			return Role{}, ErrDuplicateRole
		}
	}
	s.nextRoleID++
	role := Role{ID: s.nextRoleID, Name: name, Description: description, CreatedAt: s.now()}
	s.roles[role.ID] = role
	return role, nil
}

// AssignPermission attaches a permission to a role; repeats are no-ops.
func (s *MemoryStore) AssignPermission(ctx context.Context, roleID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("AssignPermission"); err != nil {
		return err
	}
	if _, ok := s.roles[roleID]; !ok {
		return ErrRoleNotFound
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return ErrPermissionNotFound
	}
	set, ok := s.assignments[roleID]
	if !ok {
		set = make(map[int64]Assignment)
		s.assignments[roleID] = set
	}
	if _, ok := set[permissionID]; !ok {
		set[permissionID] = Assignment{RoleID: roleID, PermissionID: permissionID, CreatedAt: s.now()}
	}
	return nil
}

// Assignments returns the role's edges ordered by permission ID.
func (s *MemoryStore) Assignments(roleID int64) []Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Assignment, 0, len(s.assignments[roleID]))
	for _, a := range s.assignments[roleID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PermissionID < out[j].PermissionID })
	return out
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
}

var _ Store = (*MemoryStore)(nil)
