package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/oppdrag/oppdrag/internal/accrual"
	"github.com/oppdrag/oppdrag/internal/app"
	"github.com/oppdrag/oppdrag/internal/order"
	"github.com/oppdrag/oppdrag/internal/outage"
	"github.com/oppdrag/oppdrag/internal/platform/cache"
	"github.com/oppdrag/oppdrag/internal/platform/db"
	"github.com/oppdrag/oppdrag/internal/transfer"
	"github.com/oppdrag/oppdrag/jobs"
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	orderRepo := order.NewRepository(pool)
	outageRepo := outage.NewRepository(pool)
	runRepo := accrual.NewRepository(pool)
	flagStore := cache.NewFlagStore(redisClient)
	outageService := outage.NewService(outageRepo)
	notifier := accrual.LogNotifier{Logger: logger}

	orchestrator := accrual.NewOrchestrator(accrual.OrchestratorConfig{
		Runs:             runRepo,
		Orders:           orderRepo,
		Outages:          outageService,
		Storage:          accrual.LocalStorage{Dir: cfg.AccrualFileDir},
		Notifier:         notifier,
		Logger:           logger,
		PartitionSize:    cfg.AccrualPartitionSize,
		Workers:          cfg.AccrualWorkers,
		LimitationMonths: cfg.LimitationMonths,
	})
	accrualJob := accrual.NewJob(orchestrator, runRepo, logger)

	ledger := transfer.NewHTTPClient(cfg.LedgerBaseURL, cfg.LedgerToken, cfg.LedgerTimeout)
	transferService := transfer.NewService(orderRepo, ledger, outageService, flagStore, notifier, logger)
	transferJob := transfer.NewJob(transferService, orderRepo, logger)

	accrualTask, err := jobs.NewAccrualRunTask(jobs.AccrualRunPayload{
		EnsureScheduled: true,
		GenerateFile:    true,
		TransmitFile:    true,
	})
	if err != nil {
		logger.Error("build accrual task", slog.Any("error", err))
		os.Exit(1)
	}
	transferTask, err := jobs.NewTransferCycleTask(jobs.TransferCyclePayload{})
	if err != nil {
		logger.Error("build transfer task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAccrualRun, Handler: accrualJob.Handle},
			{Type: jobs.TaskTransferCycle, Handler: transferJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AccrualCron, Task: accrualTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.TransferCron, Task: transferTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
