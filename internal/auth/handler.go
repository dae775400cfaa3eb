package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/giip/giip-backend/internal/platform/httpx"
	"github.com/giip/giip-backend/internal/rbac"
	"github.com/giip/giip-backend/internal/shared"
)

// PermissionLister resolves a role's permissions. *rbac.Cache implements it.
type PermissionLister interface {
	PermissionsForRole(ctx context.Context, roleID int64) ([]rbac.Permission, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	middleware  *Middleware
	permissions PermissionLister
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance. permissions may be nil, in which
// case /me omits the permission list.
func NewHandler(logger *slog.Logger, service *Service, middleware *Middleware, permissions PermissionLister) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		logger:      logger,
		service:     service,
		middleware:  middleware,
		permissions: permissions,
		validator:   validator.New(),
	}
}

type meResponse struct {
	UserView
	Permissions []string `json:"permissions,omitempty"`
}

// MountRoutes registers auth routes on provided router. loginLimiter wraps the
// credential endpoints and may be nil.
func (h *Handler) MountRoutes(r chi.Router, loginLimiter func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if loginLimiter != nil {
			r.Use(loginLimiter)
		}
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.middleware.Authenticate)
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		errs := make(map[string]string)
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				errs[fieldErr.Field()] = fieldErr.Error()
			}
		} else {
			errs["general"] = err.Error()
		}
		httpx.ValidationProblem(w, errs)
		return false
	}
	return true
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Invalid email or password")
			return
		}
		h.logger.Error("login", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("login", slog.Int64("user_id", result.User.ID))
	httpx.OK(w, http.StatusOK, "Login successful", result)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			httpx.Problem(w, http.StatusConflict, "Duplicate", "Email already registered")
			return
		}
		h.logger.Error("register", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, "User registered successfully", user.View())
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), ClaimsFromContext(r.Context())); err != nil {
		h.logger.Error("logout", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
		return
	}
	httpx.OK(w, http.StatusOK, "Logged out", nil)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, shared.ErrAuthenticationRequired)
		return
	}
	user, err := h.service.CurrentUser(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "User no longer exists")
			return
		}
		h.logger.Error("current user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := meResponse{UserView: user.View()}
	if h.permissions != nil {
		perms, err := h.permissions.PermissionsForRole(r.Context(), user.RoleID)
		if err != nil {
			h.logger.Error("current user permissions", slog.Int64("role_id", user.RoleID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		resp.Permissions = rbac.PermissionNames(perms)
	}
	httpx.OK(w, http.StatusOK, "", resp)
}
