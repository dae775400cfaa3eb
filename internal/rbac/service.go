package rbac

import (
	"context"
	"strings"
)

// Service exposes read access to roles and permissions. Permission lists for a
// role always come through the cache; the remaining lookups go to the store.
type Service struct {
	store Store
	cache *Cache
}

// NewService constructs a Service over store and cache.
func NewService(store Store, cache *Cache) *Service {
	return &Service{store: store, cache: cache}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.RoleByID(ctx, id)
}

// GetRoleByName fetches a role by name.
func (s *Service) GetRoleByName(ctx context.Context, name string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, ErrRoleNotFound
	}
	return s.store.RoleByName(ctx, name)
}

// RolePermissions returns the permissions of an existing role. Unlike
// Cache.PermissionsForRole it reports ErrRoleNotFound for unknown IDs instead of
// an empty list.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) (Role, []Permission, error) {
	role, err := s.store.RoleByID(ctx, roleID)
	if err != nil {
		return Role{}, nil, err
	}
	perms, err := s.cache.PermissionsForRole(ctx, roleID)
	if err != nil {
		return Role{}, nil, err
	}
	return role, perms, nil
}

// CacheStats returns the cache snapshot.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}
