package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/crypto/bcrypt"

	"github.com/giip/giip-backend/internal/app"
	"github.com/giip/giip-backend/internal/auth"
	jobmetrics "github.com/giip/giip-backend/internal/jobs"
	"github.com/giip/giip-backend/internal/observability"
	"github.com/giip/giip-backend/internal/platform/cache"
	"github.com/giip/giip-backend/internal/platform/db"
	"github.com/giip/giip-backend/internal/rbac"
	"github.com/giip/giip-backend/internal/roles"
	"github.com/giip/giip-backend/internal/users"
	"github.com/giip/giip-backend/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store, userRepo, cleanup, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("open stores", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	permissionCache := rbac.NewCache(store,
		rbac.WithTTL(cfg.RBACCacheTTL),
		rbac.WithLogger(logger),
		rbac.WithMetrics(rbac.NewMetrics(metrics.Registerer())),
	)
	if cfg.RBACWarmOnStart {
		if err := permissionCache.Warm(ctx); err != nil {
			logger.Warn("warm permission cache", slog.Any("error", err))
		}
	}
	if cfg.RBACSweepInterval > 0 {
		go permissionCache.RunSweeper(ctx, cfg.RBACSweepInterval)
	}

	queue := asynq.NewClient(cfg.RedisOptions().AsynqOpt())
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	auditSink := jobs.NewAuditSink(queue, jobmetrics.NewMetrics(metrics.Registerer()))

	rbacMiddleware := rbac.Middleware{Checker: permissionCache, Logger: logger}
	rolesService := roles.NewService(store, permissionCache, auditSink, logger)
	readService := rbac.NewService(store, permissionCache)

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		logger.Error("init token manager", slog.Any("error", err))
		os.Exit(1)
	}
	authService := auth.NewService(userRepo, tokens, auth.NewDenylist(redisClient), logger)
	authMiddleware := auth.NewMiddleware(authService, logger)

	inspector := asynq.NewInspector(cfg.RedisOptions().AsynqOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        auth.NewHandler(logger, authService, authMiddleware, permissionCache),
		AuthMiddleware:     authMiddleware,
		RolesHandler:       roles.NewHandler(logger, rolesService, readService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, users.NewService(userRepo, store, auditSink, logger), rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, readService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		RBACMiddleware:     rbacMiddleware,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// openStores selects the RBAC store and user repository for the configured driver.
func openStores(ctx context.Context, cfg *app.Config, logger *slog.Logger) (rbac.Store, auth.Repository, func(), error) {
	if cfg.StoreDriver == app.StoreDriverMemory {
		store := rbac.NewMemoryStore()
		if err := rbac.DefaultCatalog().LoadInto(ctx, store); err != nil {
			return nil, nil, nil, err
		}
		accounts := auth.NewMemoryRepository(store)
		if cfg.AdminPassword != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
			if err != nil {
				return nil, nil, nil, err
			}
			if _, err := accounts.CreateUserWithRole(ctx, cfg.AdminEmail, string(hash), "admin"); err != nil {
				return nil, nil, nil, err
			}
		}
		logger.Warn("using in-memory store; data is lost on restart")
		return store, accounts, func() {}, nil
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns), db.WithApplicationName("giip-api"))
	if err != nil {
		return nil, nil, nil, err
	}
	return rbac.NewPGStore(pool), auth.NewRepository(pool), pool.Close, nil
}
