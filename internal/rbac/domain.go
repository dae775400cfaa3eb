package rbac

import "time"

// Role represents a named bucket of permissions assigned to users.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission represents an atomic capability in <verb>:<resource> form.
type Permission struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// Assignment is the role to permission edge. It is the only relation the
// permission cache tracks staleness against.
type Assignment struct {
	RoleID       int64     `json:"role_id"`
	PermissionID int64     `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// CacheStats is a read-only snapshot of the permission cache.
type CacheStats struct {
	Size      int           `json:"size"`
	RoleIDs   []int64       `json:"role_ids"`
	TTL       time.Duration `json:"-"`
	TTLMillis int64         `json:"ttl_ms"`
}

// cacheEntry holds one complete store read for a role.
type cacheEntry struct {
	permissions []Permission
	fetchedAt   time.Time
}

// lookup is the result of consulting the cache without touching the store.
// A miss carries no permissions; it is never an empty grant.
type lookup struct {
	hit         bool
	permissions []Permission
}

func cacheMiss() lookup { return lookup{} }

func cacheHit(perms []Permission) lookup { return lookup{hit: true, permissions: perms} }

// PermissionNames returns the permission names in input order.
func PermissionNames(perms []Permission) []string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = p.Name
	}
	return names
}
