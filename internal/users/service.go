package users

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/giip/giip-backend/internal/auth"
	"github.com/giip/giip-backend/internal/rbac"
	"github.com/giip/giip-backend/internal/roles"
	"github.com/giip/giip-backend/internal/shared"
)

// Repository is the account storage used here. auth.Repository satisfies it.
type Repository interface {
	ListUsers(ctx context.Context) ([]auth.User, error)
	FindByID(ctx context.Context, id int64) (*auth.User, error)
	UpdateUserRole(ctx context.Context, userID, roleID int64) (*auth.User, error)
}

// RoleReader resolves role IDs. rbac.Store satisfies it.
type RoleReader interface {
	RoleByID(ctx context.Context, id int64) (rbac.Role, error)
}

// Service lists accounts and moves them between roles. The permission cache
// is keyed by role, so a role change needs no invalidation.
type Service struct {
	repo   Repository
	roles  RoleReader
	audit  roles.AuditSink
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance. audit may be nil.
func NewService(repo Repository, roleReader RoleReader, audit roles.AuditSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, roles: roleReader, audit: audit, logger: logger, now: time.Now}
}

// ListUsers returns every account, newest first.
func (s *Service) ListUsers(ctx context.Context) ([]Summary, error) {
	list, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(list))
	for _, u := range list {
		out = append(out, summarize(u))
	}
	return out, nil
}

// UpdateRole binds userID to roleID. The target user and role must exist, and
// an admin cannot change their own role.
func (s *Service) UpdateRole(ctx context.Context, actorID, userID, roleID int64) (RoleChange, error) {
	if _, err := s.repo.FindByID(ctx, userID); err != nil {
		return RoleChange{}, userErr(err)
	}
	role, err := s.roles.RoleByID(ctx, roleID)
	if err != nil {
		return RoleChange{}, err
	}
	if actorID == userID {
		return RoleChange{}, ErrOwnRole
	}

	user, err := s.repo.UpdateUserRole(ctx, userID, role.ID)
	if err != nil {
		if errors.Is(err, auth.ErrRoleMissing) {
			return RoleChange{}, rbac.ErrRoleNotFound
		}
		return RoleChange{}, userErr(err)
	}

	s.record(ctx, roles.AuditEvent{
		Action:       roles.ActionUserRoleUpdated,
		ActorID:      actorID,
		RoleID:       role.ID,
		RoleName:     role.Name,
		TargetUserID: user.ID,
	})
	return RoleChange{
		ID:        user.ID,
		Email:     user.Email,
		RoleID:    user.RoleID,
		RoleName:  user.RoleName,
		UpdatedAt: user.UpdatedAt,
	}, nil
}

func (s *Service) record(ctx context.Context, event roles.AuditEvent) {
	if s.audit == nil {
		return
	}
	event.OccurredAt = s.now().UTC()
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Warn("users audit record", slog.String("action", event.Action), slog.Any("error", err))
	}
}

func userErr(err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
