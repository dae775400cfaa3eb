package roles

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/giip/giip-backend/internal/rbac"
)

// CreateRoleRequest is the payload for creating a role.
type CreateRoleRequest struct {
	Name        string  `json:"name" validate:"required,min=2,max=50,rolename"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

// AssignPermissionsRequest is the payload for attaching permissions to a role.
type AssignPermissionsRequest struct {
	PermissionIDs []int64 `json:"permissionIds" validate:"required,min=1,dive,gt=0"`
}

// AssignResult summarises an assignment call.
type AssignResult struct {
	Role             rbac.Role         `json:"role"`
	// Assigned counts permissions the role did not hold before the call.
	Assigned         int               `json:"assignedCount"`
	TotalPermissions int               `json:"totalPermissions"`
	Permissions      []rbac.Permission `json:"permissions"`
}

// Audit actions emitted after successful mutations.
const (
	ActionRoleCreated         = "role.created"
	ActionPermissionsAssigned = "role.permissions_assigned"
	ActionCacheCleared        = "rbac.cache_cleared"
	ActionUserRoleUpdated     = "user.role_updated"
)

// AuditEvent describes one administrative RBAC mutation.
type AuditEvent struct {
	Action        string    `json:"action"`
	ActorID       int64     `json:"actor_id"`
	RoleID        int64     `json:"role_id,omitempty"`
	RoleName      string    `json:"role_name,omitempty"`
	PermissionIDs []int64   `json:"permission_ids,omitempty"`
	TargetUserID  int64     `json:"target_user_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// MissingPermissionsError lists permission IDs that do not exist.
type MissingPermissionsError struct {
	IDs []int64
}

func (e *MissingPermissionsError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("roles: permissions not found: %s", strings.Join(ids, ","))
}

func (e *MissingPermissionsError) Unwrap() error {
	return rbac.ErrPermissionNotFound
}
