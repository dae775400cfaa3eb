package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store is the authoritative role/permission relation. It does no caching.
//
// Lookup methods return ErrRoleNotFound or ErrPermissionNotFound for missing
// records. Every other failure satisfies errors.Is(err, ErrStoreUnavailable);
// a store never reports an I/O failure as an empty result.
type Store interface {
	PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error)
	RoleByID(ctx context.Context, id int64) (Role, error)
	RoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionByID(ctx context.Context, id int64) (Permission, error)
	CreateRole(ctx context.Context, name string, description *string) (Role, error)
	// AssignPermission is idempotent: repeating an existing assignment is a no-op.
	AssignPermission(ctx context.Context, roleID, permissionID int64) error
}

// DBTX is the subset of pgx shared by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const (
	sqlRolePermissions = `SELECT p.id, p.name, p.description
FROM permissions p
INNER JOIN role_permissions rp ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY p.name`
	sqlRoleByID        = `SELECT id, name, description, created_at FROM roles WHERE id = $1`
	sqlRoleByName      = `SELECT id, name, description, created_at FROM roles WHERE name = $1`
	sqlListRoles       = `SELECT id, name, description, created_at FROM roles ORDER BY name`
	sqlListPermissions = `SELECT id, name, description FROM permissions ORDER BY name`
	sqlPermissionByID  = `SELECT id, name, description FROM permissions WHERE id = $1`
	sqlCreateRole      = `INSERT INTO roles (name, description) VALUES ($1, $2)
RETURNING id, name, description, created_at`
	sqlAssignPermission = `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
ON CONFLICT (role_id, permission_id) DO NOTHING`
)

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db DBTX
}

// NewPGStore constructs a PGStore over a pool, connection or transaction.
func NewPGStore(db DBTX) *PGStore {
	return &PGStore{db: db}
}

// PermissionsForRole returns the permissions currently assigned to the role.
func (s *PGStore) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := s.db.Query(ctx, sqlRolePermissions, roleID)
	if err != nil {
		return nil, unavailable("role permissions", err)
	}
	perms, err := scanPermissions(rows)
	if err != nil {
		return nil, unavailable("role permissions", err)
	}
	return perms, nil
}

// RoleByID fetches a role by ID.
func (s *PGStore) RoleByID(ctx context.Context, id int64) (Role, error) {
	return s.queryRole(ctx, "role by id", sqlRoleByID, id)
}

// RoleByName fetches a role by its unique name.
func (s *PGStore) RoleByName(ctx context.Context, name string) (Role, error) {
	return s.queryRole(ctx, "role by name", sqlRoleByName, name)
}

// ListRoles returns all roles ordered by name.
func (s *PGStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.Query(ctx, sqlListRoles)
	if err != nil {
		return nil, unavailable("list roles", err)
	}
	defer rows.Close()
	roles := make([]Role, 0)
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
			return nil, unavailable("list roles", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list roles", err)
	}
	return roles, nil
}

// ListPermissions returns all permissions ordered by name.
func (s *PGStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.Query(ctx, sqlListPermissions)
	if err != nil {
		return nil, unavailable("list permissions", err)
	}
	perms, err := scanPermissions(rows)
	if err != nil {
		return nil, unavailable("list permissions", err)
	}
	return perms, nil
}

// PermissionByID fetches a permission by ID.
func (s *PGStore) PermissionByID(ctx context.Context, id int64) (Permission, error) {
	var perm Permission
	err := s.db.QueryRow(ctx, sqlPermissionByID, id).Scan(&perm.ID, &perm.Name, &perm.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrPermissionNotFound
		}
		return Permission{}, unavailable("permission by id", err)
	}
	return perm, nil
}

// CreateRole inserts a new role. Name uniqueness is enforced by the database.
func (s *PGStore) CreateRole(ctx context.Context, name string, description *string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, ErrInvalidRoleName
	}
	var role Role
	err := s.db.QueryRow(ctx, sqlCreateRole, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if err != nil {
		if pgErr, ok := asPgError(err); ok && pgErr.Code == pgUniqueViolation {
			return Role{}, ErrDuplicateRole
		}
		return Role{}, unavailable("create role", err)
	}
	return role, nil
}

// AssignPermission attaches a permission to a role.
func (s *PGStore) AssignPermission(ctx context.Context, roleID, permissionID int64) error {
	if _, err := s.db.Exec(ctx, sqlAssignPermission, roleID, permissionID); err != nil {
		if pgErr, ok := asPgError(err); ok && pgErr.Code == pgForeignKeyViolation {
			return foreignKeyError(pgErr)
		}
		return unavailable("assign permission", err)
	}
	return nil
}

func (s *PGStore) queryRole(ctx context.Context, op, query string, arg any) (Role, error) {
	var role Role
	err := s.db.QueryRow(ctx, query, arg).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		return Role{}, unavailable(op, err)
	}
	return role, nil
}

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	perms := make([]Permission, 0)
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func asPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// foreignKeyError maps a role_permissions FK violation to the missing side.
func foreignKeyError(pgErr *pgconn.PgError) error {
	if strings.Contains(pgErr.ConstraintName, "permission_id") {
		return ErrPermissionNotFound
	}
	return ErrRoleNotFound
}

var _ Store = (*PGStore)(nil)
