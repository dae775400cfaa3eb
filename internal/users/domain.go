// Package users exposes account administration for admins.
package users

import (
	"fmt"
	"time"

	"github.com/giip/giip-backend/internal/auth"
	"github.com/giip/giip-backend/internal/platform/httpx"
)

var (
	// ErrUserNotFound indicates the target account does not exist.
	ErrUserNotFound = fmt.Errorf("users: user not found: %w", httpx.ErrNotFound)
	// ErrOwnRole is returned when an admin tries to change their own role.
	ErrOwnRole = fmt.Errorf("users: cannot modify own role: %w", httpx.ErrForbidden)
)

// Summary is the admin listing of an account. It never carries the password hash.
type Summary struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	RoleID    int64     `json:"role_id"`
	RoleName  string    `json:"role_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleChange is returned after a role update.
type RoleChange struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	RoleID    int64     `json:"role_id"`
	RoleName  string    `json:"role_name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateRoleRequest is the role update payload.
type UpdateRoleRequest struct {
	RoleID int64 `json:"roleId" validate:"required,gt=0"`
}

func summarize(u auth.User) Summary {
	return Summary{
		ID:        u.ID,
		Email:     u.Email,
		RoleID:    u.RoleID,
		RoleName:  u.RoleName,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
