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
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/openstipend/openstipend/internal/app"
	"github.com/openstipend/openstipend/internal/auth"
	"github.com/openstipend/openstipend/internal/calculation"
	"github.com/openstipend/openstipend/internal/gateway"
	"github.com/openstipend/openstipend/internal/payroll"
	"github.com/openstipend/openstipend/internal/platform/db"
	"github.com/openstipend/openstipend/internal/program"
	"github.com/openstipend/openstipend/internal/shared"
	"github.com/openstipend/openstipend/internal/tasks"
	"github.com/openstipend/openstipend/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)

	authService := auth.NewService(auth.NewRepository(pool), redisClient, cfg.TokenTTL)
	authMiddleware := auth.NewMiddleware(authService)
	authHandler := auth.NewHandler(authService)

	taskService := tasks.NewService(tasks.NewRepository(pool), jobClient, logger)
	taskHandler := tasks.NewHandler(taskService)

	payrollRepo := payroll.NewRepository(pool)
	cascade := payroll.NewCascade(payrollRepo, logger)
	gatewayClient := gateway.NewClient(cfg.GatewayURL, cfg.GatewayTimeout)
	registry := payroll.NewRegistry(
		payroll.NewManualStrategy(payrollRepo, cascade, taskService, approvalRecorder, logger),
		payroll.NewOnlineStrategy(payrollRepo, cascade, taskService, gatewayClient, approvalRecorder, logger),
	)
	engine := calculation.NewFlatRateEngine(logger)
	payrollService := payroll.NewService(payrollRepo, program.NewRepository(pool), engine, registry, cascade, auditLogger, logger)
	store := payroll.NewFileStore(cfg.ReconciliationDir)
	reconciler := payroll.NewReconciler(payrollRepo, store, logger)
	payrollHandler := payroll.NewHandler(payrollService, registry, reconciler, store, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    authHandler,
		AuthMiddleware: authMiddleware,
		PayrollHandler: payrollHandler,
		TaskHandler:    taskHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
