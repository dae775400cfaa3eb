package auth

import (
	"fmt"
	"time"

	"github.com/giip/giip-backend/internal/platform/httpx"
)

// DefaultRole is assigned to self-registered accounts.
const DefaultRole = "user"

// User represents an account joined with its role.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	RoleID       int64
	RoleName     string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserView is the public projection of a user.
type UserView struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// View strips credentials from the user.
func (u *User) View() UserView {
	return UserView{ID: u.ID, Email: u.Email, Role: u.RoleName}
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the self-registration payload.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginResult carries an issued token and the authenticated user.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      UserView  `json:"user"`
}

var (
	// ErrTokenExpired indicates a well-formed token past its expiry.
	ErrTokenExpired = fmt.Errorf("auth: token expired: %w", httpx.ErrUnauthorized)
	// ErrTokenInvalid indicates a token that failed signature or claim checks.
	ErrTokenInvalid = fmt.Errorf("auth: invalid token: %w", httpx.ErrUnauthorized)
	// ErrTokenRevoked indicates a token revoked by logout.
	ErrTokenRevoked = fmt.Errorf("auth: token revoked: %w", httpx.ErrUnauthorized)
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = fmt.Errorf("auth: email already registered: %w", httpx.ErrDuplicate)
	// ErrRoleMissing indicates a role ID that does not exist.
	ErrRoleMissing = fmt.Errorf("auth: role not found: %w", httpx.ErrNotFound)
	// ErrDefaultRoleMissing indicates the default role has not been seeded.
	ErrDefaultRoleMissing = fmt.Errorf("auth: default role %q not found", DefaultRole)
)
