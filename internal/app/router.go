package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/giip/giip-backend/internal/auth"
	"github.com/giip/giip-backend/internal/observability"
	"github.com/giip/giip-backend/internal/platform/httpx"
	"github.com/giip/giip-backend/internal/rbac"
	"github.com/giip/giip-backend/internal/roles"
	"github.com/giip/giip-backend/internal/users"
	"github.com/giip/giip-backend/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthHandler        *auth.Handler
	AuthMiddleware     *auth.Middleware
	RolesHandler       *roles.Handler
	UsersHandler       *users.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	RBACMiddleware     rbac.Middleware
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "Route "+r.URL.Path+" not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.AuthHandler != nil {
			loginLimit := 0
			if params.Config != nil {
				loginLimit = params.Config.LoginRateLimitPerMinute
			}
			r.Route("/auth", func(r chi.Router) {
				params.AuthHandler.MountRoutes(r, LoginLimiter(loginLimit))
			})
		}
		r.Route("/admin", func(r chi.Router) {
			if params.AuthMiddleware != nil {
				r.Use(params.AuthMiddleware.Authenticate)
			} else {
				r.Use(requireAuthentication)
			}
			if params.RolesHandler != nil {
				r.Route("/roles", params.RolesHandler.MountRoutes)
			}
			if params.UsersHandler != nil {
				r.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.PermissionsHandler != nil {
				r.Route("/permissions", params.PermissionsHandler.MountRoutes)
			}
			r.Route("/cache", func(r chi.Router) {
				if params.PermissionsHandler != nil {
					params.PermissionsHandler.MountCacheRoutes(r)
				}
				if params.RolesHandler != nil {
					params.RolesHandler.MountCacheRoutes(r)
				}
			})
			if params.JobHandler != nil {
				r.Route("/jobs", func(r chi.Router) {
					r.Use(params.RBACMiddleware.RequirePermission("manage:users"))
					params.JobHandler.MountRoutes(r)
				})
			}
		})
	})

	return r
}

// requireAuthentication rejects every request. It stands in for a missing
// authenticator so admin routes fail closed.
func requireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
	})
}
