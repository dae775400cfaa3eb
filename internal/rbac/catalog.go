package rbac

import (
	"context"
	"fmt"
)

// Grant lists the permission names a role starts with.
type Grant struct {
	Role        string
	Permissions []string
}

// Catalog is the bootstrap set of roles, permissions and grants.
type Catalog struct {
	Roles       []Role
	Permissions []Permission
	Grants      []Grant
}

func describe(s string) *string { return &s }

// DefaultCatalog returns the roles and permissions every deployment starts with.
// IDs are positional and only meaningful for the memory driver.
func DefaultCatalog() Catalog {
	cat := Catalog{
		Roles: []Role{
			{ID: 1, Name: "admin", Description: describe("Full administrative access")},
			{ID: 2, Name: "editor", Description: describe("Publishes and maintains content")},
			{ID: 3, Name: "user", Description: describe("Read-only member access")},
		},
	}

	var id int64
	for _, resource := range []string{"news", "events", "conferences"} {
		for _, verb := range []string{"read", "write", "delete"} {
			id++
			cat.Permissions = append(cat.Permissions, Permission{ID: id, Name: verb + ":" + resource})
		}
	}
	id++
	cat.Permissions = append(cat.Permissions, Permission{ID: id, Name: "manage:users", Description: describe("Administer accounts and background jobs")})

	all := PermissionNames(cat.Permissions)
	cat.Grants = []Grant{
		{Role: "admin", Permissions: all},
		{Role: "editor", Permissions: []string{
			"read:news", "write:news",
			"read:events", "write:events",
			"read:conferences", "write:conferences",
		}},
		{Role: "user", Permissions: []string{"read:news", "read:events", "read:conferences"}},
	}
	return cat
}

// LoadInto copies the catalog into a MemoryStore.
func (c Catalog) LoadInto(ctx context.Context, store *MemoryStore) error {
	roleIDs := make(map[string]int64, len(c.Roles))
	for _, role := range c.Roles {
		store.PutRole(role)
		roleIDs[role.Name] = role.ID
	}
	permIDs := make(map[string]int64, len(c.Permissions))
	for _, perm := range c.Permissions {
		store.PutPermission(perm)
		permIDs[perm.Name] = perm.ID
	}
	for _, grant := range c.Grants {
		roleID, ok := roleIDs[grant.Role]
		if !ok {
			return fmt.Errorf("rbac: grant for unknown role %q", grant.Role)
		}
		for _, name := range grant.Permissions {
			permID, ok := permIDs[name]
			if !ok {
				return fmt.Errorf("rbac: grant of unknown permission %q", name)
			}
			if err := store.AssignPermission(ctx, roleID, permID); err != nil {
				return err
			}
		}
	}
	return nil
}
