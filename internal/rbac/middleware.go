package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/giip/giip-backend/internal/platform/httpx"
	"github.com/giip/giip-backend/internal/shared"
)

// Checker answers permission questions for a role. *Cache implements it.
type Checker interface {
	HasPermission(ctx context.Context, roleID int64, name string) (bool, error)
	HasAnyPermission(ctx context.Context, roleID int64, names []string) (bool, error)
	HasAllPermissions(ctx context.Context, roleID int64, names []string) (bool, error)
}

// Middleware wires RBAC authorization helpers for HTTP handlers. It must run
// after authentication has attached a shared.Principal to the request.
type Middleware struct {
	Checker Checker
	Logger  *slog.Logger
}

// RequirePermission ensures the current user holds the named permission.
// The name is trimmed like the RequireAny and RequireAll lists; a blank name admits nobody.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	perm = strings.TrimSpace(perm)
	return m.guard("rbac require permission", fmt.Sprintf("Access denied. Required permission: %s", perm),
		func(ctx context.Context, roleID int64) (bool, error) {
			return m.Checker.HasPermission(ctx, roleID, perm)
		})
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard("rbac require any", "Access denied. You need at least one of the required permissions",
		func(ctx context.Context, roleID int64) (bool, error) {
			return m.Checker.HasAnyPermission(ctx, roleID, normalized)
		})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard("rbac require all", "Access denied. You need all of the required permissions",
		func(ctx context.Context, roleID int64) (bool, error) {
			return m.Checker.HasAllPermissions(ctx, roleID, normalized)
		})
}

// RequireRole admits only principals whose role name is one of roles.
// It does not consult the permission cache.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := shared.PrincipalFromContext(r.Context())
			if p == nil || p.Role == "" {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
				return
			}
			if !slices.Contains(roles, p.Role) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "Access denied. Insufficient role privileges")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) guard(op, denied string, check func(context.Context, int64) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := shared.PrincipalFromContext(r.Context())
			if !p.HasRole() {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
				return
			}
			allowed, err := check(r.Context(), p.RoleID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error(op, slog.Int64("role_id", p.RoleID), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			if !allowed {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", denied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// normalizePermissions drops blank entries and duplicates. Case is preserved
// because permission names match case-sensitively.
func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
