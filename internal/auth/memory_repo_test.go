package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giip/giip-backend/internal/rbac"
	"github.com/giip/giip-backend/internal/shared"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	store := rbac.NewMemoryStore()
	store.PutRole(rbac.Role{ID: 3, Name: DefaultRole})
	repo := NewMemoryRepository(store)

	user, err := repo.CreateUser(ctx, "a@giip.test", "hash")
	require.NoError(t, err)
	assert.Equal(t, int64(3), user.RoleID)
	assert.True(t, user.IsActive)

	_, err = repo.CreateUser(ctx, "a@giip.test", "hash")
	assert.ErrorIs(t, err, ErrEmailTaken)

	found, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@giip.test", found.Email)

	_, err = repo.FindByEmail(ctx, "b@giip.test")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = repo.CreateUserWithRole(ctx, "c@giip.test", "hash", "admin")
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound)
}

func TestMemoryRepositoryUpdateUserRole(t *testing.T) {
	ctx := context.Background()
	store := rbac.NewMemoryStore()
	store.PutRole(rbac.Role{ID: 2, Name: "editor"})
	store.PutRole(rbac.Role{ID: 3, Name: DefaultRole})
	repo := NewMemoryRepository(store)

	first, err := repo.CreateUser(ctx, "a@giip.test", "hash")
	require.NoError(t, err)
	second, err := repo.CreateUser(ctx, "b@giip.test", "hash")
	require.NoError(t, err)

	updated, err := repo.UpdateUserRole(ctx, first.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "editor", updated.RoleName)
	assert.Equal(t, int64(2), updated.RoleID)

	found, err := repo.FindByEmail(ctx, "a@giip.test")
	require.NoError(t, err)
	assert.Equal(t, "editor", found.RoleName)

	_, err = repo.UpdateUserRole(ctx, 99, 2)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = repo.UpdateUserRole(ctx, first.ID, 42)
	assert.ErrorIs(t, err, ErrRoleMissing)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.ElementsMatch(t, []int64{first.ID, second.ID}, []int64{users[0].ID, users[1].ID})
}

func TestMemoryRepositoryWithoutDefaultRole(t *testing.T) {
	repo := NewMemoryRepository(rbac.NewMemoryStore())
	_, err := repo.CreateUser(context.Background(), "a@giip.test", "hash")
	assert.ErrorIs(t, err, ErrDefaultRoleMissing)
}
