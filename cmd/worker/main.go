package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/openstipend/openstipend/internal/app"
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

	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	taskService := tasks.NewService(tasks.NewRepository(pool), jobClient, logger)

	payrollRepo := payroll.NewRepository(pool)
	cascade := payroll.NewCascade(payrollRepo, logger)
	gatewayClient := gateway.NewClient(cfg.GatewayURL, cfg.GatewayTimeout)
	registry := payroll.NewRegistry(
		payroll.NewManualStrategy(payrollRepo, cascade, taskService, approvalRecorder, logger),
		payroll.NewOnlineStrategy(payrollRepo, cascade, taskService, gatewayClient, approvalRecorder, logger),
	)
	engine := calculation.NewFlatRateEngine(logger)
	payrollService := payroll.NewService(payrollRepo, program.NewRepository(pool), engine, registry, cascade, shared.NewAuditLogger(pool), logger)
	workflow := payroll.NewWorkflow(payrollRepo, registry, payrollService, cascade, logger)

	worker := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeTaskCompleted, Handler: jobs.HandleTaskCompleted(workflow)},
		},
	})

	logger.Info("worker starting", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}
