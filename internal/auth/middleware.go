package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/giip/giip-backend/internal/platform/httpx"
	"github.com/giip/giip-backend/internal/shared"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the verified token claims, if any.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsContextKey{}).(*Claims)
	return c
}

// Middleware authenticates bearer tokens.
type Middleware struct {
	service *Service
	logger  *slog.Logger
}

// NewMiddleware constructs Middleware.
func NewMiddleware(service *Service, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Middleware{service: service, logger: logger}
}

// Authenticate requires a valid `Authorization: Bearer <token>` header and
// attaches the principal to the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "No authorization token provided")
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" || token == "" || strings.Contains(token, " ") {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Authorization header must be in format: Bearer <token>")
			return
		}
		claims, err := m.service.Verify(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Token has expired")
			case errors.Is(err, ErrTokenRevoked):
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Token has been revoked")
			case errors.Is(err, ErrTokenInvalid):
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Invalid token")
			default:
				m.logger.Error("auth verify token", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
			}
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), claims.Principal())
		ctx = context.WithValue(ctx, claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
