package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/giip/giip-backend/internal/platform/httpx"
	"github.com/giip/giip-backend/internal/rbac"
	"github.com/giip/giip-backend/internal/shared"
)

// Handler serves the admin user endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole("admin"))
		r.Get("/", h.listUsers)
		r.Put("/{id}/role", h.updateRole)
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.List(w, list)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Invalid user ID")
		return
	}
	var req UpdateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		errs := map[string]string{}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				errs[fieldErr.Field()] = fieldErr.Error()
			}
		} else {
			errs["general"] = err.Error()
		}
		httpx.ValidationProblem(w, errs)
		return
	}

	var actorID int64
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		actorID = p.UserID
	}
	change, err := h.service.UpdateRole(r.Context(), actorID, id, req.RoleID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "User not found")
		return
	case errors.Is(err, rbac.ErrRoleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "Role not found")
		return
	case errors.Is(err, ErrOwnRole):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "You cannot modify your own role")
		return
	case err != nil:
		h.fail(w, "update user role", err)
		return
	}
	h.logger.Info("user role updated",
		slog.Int64("user_id", change.ID), slog.Int64("role_id", change.RoleID), slog.Int64("actor_id", actorID))
	httpx.OK(w, http.StatusOK, "User role updated successfully", change)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
