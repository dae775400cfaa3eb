package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/giip/giip-backend/internal/platform/httpx"
)

// PermissionsHandler serves permission listing and cache statistics.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers permission listing routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole("admin"))
		r.Get("/", h.listPermissions)
	})
}

// MountCacheRoutes registers read-only cache routes.
func (h *PermissionsHandler) MountCacheRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole("admin"))
		r.Get("/stats", h.cacheStats)
	})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.List(w, perms)
}

func (h *PermissionsHandler) cacheStats(w http.ResponseWriter, r *http.Request) {
	httpx.OK(w, http.StatusOK, "", h.service.CacheStats())
}
