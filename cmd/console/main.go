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

	"github.com/novafarm/console/internal/app"
	"github.com/novafarm/console/internal/auth"
	"github.com/novafarm/console/internal/observability"
	"github.com/novafarm/console/internal/platform/cache"
	"github.com/novafarm/console/internal/platform/db"
	"github.com/novafarm/console/internal/rbac"
	"github.com/novafarm/console/internal/rbac/seed"
	"github.com/novafarm/console/internal/shared"
	"github.com/novafarm/console/internal/users"
	"github.com/novafarm/console/internal/view"
	"github.com/novafarm/console/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, PingTimeout: 5 * time.Second})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	var store rbac.Store
	switch cfg.PermissionBackend {
	case app.BackendMemory:
		logger.Warn("using in-memory permission store; changes are lost on restart")
		memory := rbac.NewMemoryStore()
		if cfg.PermissionSeedFile != "" {
			plan, err := seed.ParseFile(cfg.PermissionSeedFile)
			if err != nil {
				logger.Error("parse permission seed", slog.Any("error", err))
				os.Exit(1)
			}
			if err := seed.SavePermissions(ctx, memory, plan); err != nil {
				logger.Error("seed memory store", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("seeded in-memory permissions", slog.String("file", cfg.PermissionSeedFile), slog.Int("roles", len(plan.Roles)))
		}
		store = memory
	default:
		store = rbac.NewPGStore(dbpool, cfg.PermissionStoreTimeout)
	}

	broadcaster := rbac.NewRedisBroadcaster(redisClient, logger)
	evaluator := rbac.NewEvaluator(store,
		rbac.WithCacheTTL(cfg.PermissionCacheTTL),
		rbac.WithLogger(logger),
		rbac.WithDecisionRecorder(metrics),
		rbac.WithBroadcaster(broadcaster),
	)
	broadcaster.Listen(ctx, evaluator)
	workbench := rbac.NewWorkbench(store, evaluator, logger, cfg.EditorIdleTimeout)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager, jobClient)

	consoleHandler := rbac.NewHandler(logger, evaluator, workbench, templates, csrfManager, jobClient)
	usersHandler := users.NewHandler(logger, users.NewService(users.NewRepository(dbpool)), consoleHandler)
	consoleHandler.Section("users", usersHandler.List)
	apiHandler := rbac.NewAPIHandler(logger, evaluator, workbench, jobClient)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Resolver:       rbac.Resolver{Logger: logger},
		AuthHandler:    authHandler,
		ConsoleHandler: consoleHandler,
		APIHandler:     apiHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("permission_backend", cfg.PermissionBackend))
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
