package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/giip/giip-backend/internal/platform/httpx"
	"github.com/giip/giip-backend/internal/rbac"
	"github.com/giip/giip-backend/internal/shared"
)

var roleNamePattern = regexp.MustCompile(`^[a-z_]+$`)

// Handler manages role management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	reads     *rbac.Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, reads *rbac.Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger, service: service, reads: reads, rbac: rbac, validator: newValidator()}
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("rolename", func(fl validator.FieldLevel) bool {
		return roleNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole("admin"))
		r.Get("/", h.listRoles)
		r.Get("/{id}", h.getRole)
		r.Get("/{id}/permissions", h.rolePermissions)
		r.Post("/", h.createRole)
		r.Post("/{id}/permissions", h.assignPermissions)
	})
}

// MountCacheRoutes registers manual cache invalidation routes.
func (h *Handler) MountCacheRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole("admin"))
		r.Delete("/", h.clearCache)
		r.Delete("/roles/{id}", h.clearRoleCache)
	})
}

type formErrors map[string]string

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.reads.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.List(w, roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := roleIDParam(w, r)
	if !ok {
		return
	}
	role, err := h.reads.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", role)
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := roleIDParam(w, r)
	if !ok {
		return
	}
	role, perms, err := h.reads.RolePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, "role permissions", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", map[string]any{"role": role, "permissions": perms})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Malformed JSON body")
		return
	}
	if errs := h.validate(req); len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	role, err := h.service.CreateRole(r.Context(), actorID(r), req)
	if err != nil {
		if errors.Is(err, rbac.ErrDuplicateRole) {
			httpx.Problem(w, http.StatusConflict, "Duplicate", "Role '"+req.Name+"' already exists")
			return
		}
		h.fail(w, "create role", err)
		return
	}
	h.logger.Info("role created", slog.Int64("role_id", role.ID), slog.String("name", role.Name))
	httpx.OK(w, http.StatusCreated, "Role created successfully", role)
}

func (h *Handler) assignPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := roleIDParam(w, r)
	if !ok {
		return
	}
	var req AssignPermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Malformed JSON body")
		return
	}
	if errs := h.validate(req); len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	role, added, err := h.service.AssignPermissions(r.Context(), actorID(r), id, req.PermissionIDs)
	if err != nil {
		h.fail(w, "assign permissions", err)
		return
	}
	// Invalidation already happened, so this read reflects the new assignments.
	_, perms, err := h.reads.RolePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, "reload role permissions", err)
		return
	}
	h.logger.Info("permissions assigned", slog.Int64("role_id", id), slog.Int("added", added))
	httpx.OK(w, http.StatusOK, "Permissions assigned successfully", AssignResult{
		Role:             role,
		Assigned:         added,
		TotalPermissions: len(perms),
		Permissions:      perms,
	})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	h.service.InvalidateAll(r.Context(), actorID(r))
	h.logger.Info("rbac cache cleared")
	httpx.OK(w, http.StatusOK, "Permission cache cleared", nil)
}

func (h *Handler) clearRoleCache(w http.ResponseWriter, r *http.Request) {
	id, ok := roleIDParam(w, r)
	if !ok {
		return
	}
	h.service.InvalidateRole(r.Context(), actorID(r), id)
	h.logger.Info("rbac role cache cleared", slog.Int64("role_id", id))
	httpx.OK(w, http.StatusOK, "Role permission cache cleared", nil)
}

func (h *Handler) validate(v any) formErrors {
	errs := make(formErrors)
	if err := h.validator.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				errs[fieldErr.Field()] = fieldErr.Error()
			}
		} else {
			errs["general"] = err.Error()
		}
	}
	return errs
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func roleIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Invalid role ID")
		return 0, false
	}
	return id, true
}

func actorID(r *http.Request) int64 {
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		return p.UserID
	}
	return 0
}
