package roles

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/giip/giip-backend/internal/rbac"
)

// Invalidator drops cached permission lists. *rbac.Cache implements it.
type Invalidator interface {
	InvalidateRole(roleID int64)
	InvalidateAll()
}

// AuditSink receives audit events after successful mutations.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// Service runs the administrative role workflow. Every store mutation is
// followed by a cache invalidation for the affected role, because the cache has
// no other way to learn about the change.
type Service struct {
	store  rbac.Store
	cache  Invalidator
	audit  AuditSink
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance. audit may be nil.
func NewService(store rbac.Store, cache Invalidator, audit AuditSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, cache: cache, audit: audit, logger: logger, now: time.Now}
}

// CreateRole inserts a role and invalidates its cache slot.
func (s *Service) CreateRole(ctx context.Context, actorID int64, req CreateRoleRequest) (rbac.Role, error) {
	role, err := s.store.CreateRole(ctx, req.Name, req.Description)
	if err != nil {
		return rbac.Role{}, err
	}
	s.cache.InvalidateRole(role.ID)
	s.record(ctx, AuditEvent{
		Action:   ActionRoleCreated,
		ActorID:  actorID,
		RoleID:   role.ID,
		RoleName: role.Name,
	})
	return role, nil
}

// AssignPermissions attaches permissionIDs to the role and reports how many of
// them the role did not already hold. The role and every permission are checked
// first so nothing is written when any is missing. The role's cache slot is
// invalidated even when a later write fails, since earlier writes may already
// have landed.
func (s *Service) AssignPermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) (rbac.Role, int, error) {
	role, err := s.store.RoleByID(ctx, roleID)
	if err != nil {
		return rbac.Role{}, 0, err
	}
	ids := uniqueIDs(permissionIDs)
	var missing []int64
	for _, id := range ids {
		if _, err := s.store.PermissionByID(ctx, id); err != nil {
			if errors.Is(err, rbac.ErrPermissionNotFound) {
				missing = append(missing, id)
				continue
			}
			return rbac.Role{}, 0, err
		}
	}
	if len(missing) > 0 {
		return rbac.Role{}, 0, &MissingPermissionsError{IDs: missing}
	}

	// Read the store, not the cache: a stale entry would miscount.
	current, err := s.store.PermissionsForRole(ctx, roleID)
	if err != nil {
		return rbac.Role{}, 0, err
	}
	held := make(map[int64]struct{}, len(current))
	for _, p := range current {
		held[p.ID] = struct{}{}
	}

	var added int
	var assignErr error
	for _, id := range ids {
		if err := s.store.AssignPermission(ctx, roleID, id); err != nil {
			assignErr = err
			break
		}
		if _, ok := held[id]; !ok {
			added++
		}
	}
	s.cache.InvalidateRole(roleID)
	if assignErr != nil {
		return rbac.Role{}, 0, assignErr
	}

	s.record(ctx, AuditEvent{
		Action:        ActionPermissionsAssigned,
		ActorID:       actorID,
		RoleID:        role.ID,
		RoleName:      role.Name,
		PermissionIDs: ids,
	})
	return role, added, nil
}

// InvalidateRole clears one role's cached permissions after a change made
// outside this service.
func (s *Service) InvalidateRole(ctx context.Context, actorID, roleID int64) {
	s.cache.InvalidateRole(roleID)
	s.record(ctx, AuditEvent{Action: ActionCacheCleared, ActorID: actorID, RoleID: roleID})
}

// InvalidateAll clears the whole cache after bulk changes made outside this service.
func (s *Service) InvalidateAll(ctx context.Context, actorID int64) {
	s.cache.InvalidateAll()
	s.record(ctx, AuditEvent{Action: ActionCacheCleared, ActorID: actorID})
}

// record is best-effort: a failed audit write never undoes a committed mutation.
func (s *Service) record(ctx context.Context, event AuditEvent) {
	if s.audit == nil {
		return
	}
	event.OccurredAt = s.now().UTC()
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Warn("roles audit record", slog.String("action", event.Action), slog.Any("error", err))
	}
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
