package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giip/giip-backend/internal/auth"
	"github.com/giip/giip-backend/internal/observability"
	"github.com/giip/giip-backend/internal/platform/httpx"
	"github.com/giip/giip-backend/internal/rbac"
	"github.com/giip/giip-backend/internal/roles"
	"github.com/giip/giip-backend/internal/users"
	"github.com/giip/giip-backend/jobs"
)

func testConfig() *Config {
	return &Config{
		AppEnv:                  "test",
		AppRequestTimeout:       5 * time.Second,
		StoreDriver:             StoreDriverMemory,
		JWTSecret:               "router-test-secret",
		JWTTTL:                  time.Hour,
		JWTIssuer:               "giip-test",
		RBACCacheTTL:            5 * time.Minute,
		RateLimitPerMinute:      100,
		LoginRateLimitPerMinute: 5,
		AuditRetentionDays:      90,
	}
}

type testServer struct {
	handler http.Handler
	cache   *rbac.Cache
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	ctx := context.Background()
	cfg := testConfig()

	store := rbac.NewMemoryStore()
	require.NoError(t, rbac.DefaultCatalog().LoadInto(ctx, store))

	accounts := auth.NewMemoryRepository(store)
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = accounts.CreateUserWithRole(ctx, "admin@giip.test", string(hash), "admin")
	require.NoError(t, err)
	_, err = accounts.CreateUserWithRole(ctx, "editor@giip.test", string(hash), "editor")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := rbac.NewCache(store, rbac.WithTTL(cfg.RBACCacheTTL))
	mw := rbac.Middleware{Checker: cache}
	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	require.NoError(t, err)
	authService := auth.NewService(accounts, tokens, auth.NewDenylist(client), nil)
	authMiddleware := auth.NewMiddleware(authService, nil)
	reads := rbac.NewService(store, cache)

	router := NewRouter(RouterParams{
		Config:             cfg,
		AuthHandler:        auth.NewHandler(nil, authService, authMiddleware, cache),
		AuthMiddleware:     authMiddleware,
		RolesHandler:       roles.NewHandler(nil, roles.NewService(store, cache, nil, nil), reads, mw),
		UsersHandler:       users.NewHandler(nil, users.NewService(accounts, store, nil, nil), mw),
		PermissionsHandler: rbac.NewPermissionsHandler(nil, reads, mw),
		JobHandler:         jobs.NewHandler(nil, nil),
		RBACMiddleware:     mw,
		Metrics:            observability.NewMetrics(),
	})
	return testServer{handler: router, cache: cache}
}

func (s testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s testServer) login(t *testing.T, email string) string {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/auth/login", "", `{"email":"`+email+`","password":"password123"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var envelope struct {
		Data auth.LoginResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&envelope))
	require.NotEmpty(t, envelope.Data.Token)
	return envelope.Data.Token
}

func TestRouterHealthAndNotFound(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = srv.do(t, http.MethodGet, "/api/nowhere", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&problem))
	assert.Equal(t, "Route /api/nowhere not found", problem.Detail)

	rr = srv.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "giip_http_requests_total")
}

func TestRouterAdminFlow(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "admin@giip.test")

	rr := srv.do(t, http.MethodGet, "/api/admin/roles", token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"count":3`)

	rr = srv.do(t, http.MethodPost, "/api/admin/roles", token, `{"name":"reviewer"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created struct {
		Data rbac.Role `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))

	rr = srv.do(t, http.MethodPost, "/api/admin/roles/"+strconv.FormatInt(created.Data.ID, 10)+"/permissions", token, `{"permissionIds":[1,2]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = srv.do(t, http.MethodGet, "/api/admin/cache/stats", token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ttl_ms":300000`)

	rr = srv.do(t, http.MethodDelete, "/api/admin/cache", token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, srv.cache.Stats().Size)

	rr = srv.do(t, http.MethodGet, "/api/admin/jobs/health", token, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterRejectsUnauthorizedCallers(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodGet, "/api/admin/roles", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	editor := srv.login(t, "editor@giip.test")
	rr = srv.do(t, http.MethodGet, "/api/admin/roles", editor, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = srv.do(t, http.MethodGet, "/api/admin/jobs/health", editor, "")
	require.Equal(t, http.StatusForbidden, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&problem))
	assert.Equal(t, "Access denied. Required permission: manage:users", problem.Detail)
}

func TestRouterMeAndLogout(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "editor@giip.test")

	rr := srv.do(t, http.MethodGet, "/api/auth/me", token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"write:news"`)
	assert.NotContains(t, rr.Body.String(), `"delete:news"`)

	rr = srv.do(t, http.MethodPost, "/api/auth/logout", token, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = srv.do(t, http.MethodGet, "/api/auth/me", token, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&problem))
	assert.Equal(t, "Token has been revoked", problem.Detail)
}

func TestRouterRegisterGetsDefaultRole(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodPost, "/api/auth/register", "", `{"email":"new@giip.test","password":"longenough"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"role":"user"`)
}

func TestRouterLoginRateLimit(t *testing.T) {
	srv := newTestServer(t)
	body := `{"email":"admin@giip.test","password":"wrong"}`

	for i := 0; i < 5; i++ {
		rr := srv.do(t, http.MethodPost, "/api/auth/login", "", body)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr := srv.do(t, http.MethodPost, "/api/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestRouterAdminManagesUserRoles(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.login(t, "admin@giip.test")

	rr := srv.do(t, http.MethodGet, "/api/admin/users", admin, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"count":2`)
	assert.NotContains(t, rr.Body.String(), "$2a$")

	rr = srv.do(t, http.MethodPut, "/api/admin/users/1/role", admin, `{"roleId":3}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = srv.do(t, http.MethodPut, "/api/admin/users/2/role", admin, `{"roleId":3}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"role_name":"user"`)

	rr = srv.do(t, http.MethodPost, "/api/auth/login", "", `{"email":"editor@giip.test","password":"password123"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"role":"user"`)

	editor := srv.login(t, "editor@giip.test")
	rr = srv.do(t, http.MethodGet, "/api/admin/users", editor, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRouterAdminFailsClosedWithoutAuthenticator(t *testing.T) {
	store := rbac.NewMemoryStore()
	require.NoError(t, rbac.DefaultCatalog().LoadInto(context.Background(), store))
	cache := rbac.NewCache(store)
	mw := rbac.Middleware{Checker: cache}
	router := NewRouter(RouterParams{
		Config:         testConfig(),
		RolesHandler:   roles.NewHandler(nil, roles.NewService(store, cache, nil, nil), rbac.NewService(store, cache), mw),
		RBACMiddleware: mw,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/roles", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&problem))
	assert.Equal(t, "Authentication required", problem.Detail)
}
