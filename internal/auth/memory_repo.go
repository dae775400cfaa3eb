package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/giip/giip-backend/internal/rbac"
	"github.com/giip/giip-backend/internal/shared"
)

// RoleResolver looks up roles. rbac.Store implements it.
type RoleResolver interface {
	RoleByID(ctx context.Context, id int64) (rbac.Role, error)
	RoleByName(ctx context.Context, name string) (rbac.Role, error)
}

// MemoryRepository keeps accounts in process memory for the memory store driver.
type MemoryRepository struct {
	mu      sync.RWMutex
	roles   RoleResolver
	byEmail map[string]*User
	nextID  int64
}

// NewMemoryRepository constructs an empty repository resolving roles through roles.
func NewMemoryRepository(roles RoleResolver) *MemoryRepository {
	return &MemoryRepository{roles: roles, byEmail: make(map[string]*User)}
}

// FindByEmail fetches a user by email.
func (r *MemoryRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byEmail[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

// FindByID fetches a user by ID.
func (r *MemoryRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.byEmail {
		if user.ID == id {
			clone := *user
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

// CreateUser inserts an account bound to DefaultRole.
func (r *MemoryRepository) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	return r.CreateUserWithRole(ctx, email, passwordHash, DefaultRole)
}

// CreateUserWithRole inserts an active account bound to the named role.
func (r *MemoryRepository) CreateUserWithRole(ctx context.Context, email, passwordHash, roleName string) (*User, error) {
	role, err := r.roles.RoleByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, rbac.ErrRoleNotFound) && roleName == DefaultRole {
			return nil, ErrDefaultRoleMissing
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[email]; ok {
		return nil, ErrEmailTaken
	}
	r.nextID++
	now := time.Now()
	user := &User{
		ID:           r.nextID,
		Email:        email,
		PasswordHash: passwordHash,
		RoleID:       role.ID,
		RoleName:     role.Name,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byEmail[email] = user
	clone := *user
	return &clone, nil
}

// ListUsers returns every account, newest first.
func (r *MemoryRepository) ListUsers(ctx context.Context) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]User, 0, len(r.byEmail))
	for _, user := range r.byEmail {
		users = append(users, *user)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.After(users[j].CreatedAt)
		}
		return users[i].ID > users[j].ID
	})
	return users, nil
}

// UpdateUserRole rebinds the user to roleID.
func (r *MemoryRepository) UpdateUserRole(ctx context.Context, userID, roleID int64) (*User, error) {
	role, err := r.roles.RoleByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, rbac.ErrRoleNotFound) {
			return nil, ErrRoleMissing
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byEmail {
		if user.ID != userID {
			continue
		}
		user.RoleID = role.ID
		user.RoleName = role.Name
		user.UpdatedAt = time.Now()
		clone := *user
		return &clone, nil
	}
	return nil, shared.ErrNotFound
}

var _ Repository = (*MemoryRepository)(nil)
