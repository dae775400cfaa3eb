package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/giip/giip-backend/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUserRole(ctx context.Context, userID, roleID int64) (*User, error)
}

// Querier is the pgx subset used by PGRepository.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlUserColumns = `SELECT u.id, u.email, u.password, u.role_id, r.name, u.is_active, u.created_at, u.updated_at
FROM users u
JOIN roles r ON u.role_id = r.id`
	sqlUserByEmail = sqlUserColumns + ` WHERE u.email = $1`
	sqlUserByID    = sqlUserColumns + ` WHERE u.id = $1`
	sqlCreateUser  = `INSERT INTO users (email, password, role_id)
SELECT $1, $2, r.id FROM roles r WHERE r.name = $3
RETURNING id, email, password, role_id, is_active, created_at, updated_at`
	sqlListUsers = sqlUserColumns + ` ORDER BY u.created_at DESC, u.id DESC`
	// The CTE keeps the role name in the returned row without a second query.
	sqlUpdateUserRole = `WITH updated AS (
	UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1
	RETURNING id, email, password, role_id, is_active, created_at, updated_at
)
SELECT u.id, u.email, u.password, u.role_id, r.name, u.is_active, u.created_at, u.updated_at
FROM updated u
JOIN roles r ON u.role_id = r.id`
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db Querier
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(db Querier) *PGRepository {
	return &PGRepository{db: db}
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, sqlUserByEmail, email)
}

// FindByID fetches a user by ID.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, sqlUserByID, id)
}

func scanUser(row pgx.Row, user *User) error {
	return row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.RoleID, &user.RoleName,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
}

func (r *PGRepository) findOne(ctx context.Context, query string, args ...any) (*User, error) {
	var user User
	if err := scanUser(r.db.QueryRow(ctx, query, args...), &user); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts an account bound to DefaultRole.
func (r *PGRepository) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	user := User{RoleName: DefaultRole}
	err := r.db.QueryRow(ctx, sqlCreateUser, email, passwordHash, DefaultRole).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.RoleID,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDefaultRoleMissing
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &user, nil
}

// ListUsers returns every account, newest first.
func (r *PGRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, sqlListUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := scanUser(rows, &user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUserRole rebinds the user to roleID. An unknown user yields
// shared.ErrNotFound; an unknown role yields ErrRoleMissing.
func (r *PGRepository) UpdateUserRole(ctx context.Context, userID, roleID int64) (*User, error) {
	user, err := r.findOne(ctx, sqlUpdateUserRole, userID, roleID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrRoleMissing
		}
		return nil, err
	}
	return user, nil
}

var _ Repository = (*PGRepository)(nil)
