package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/oppdrag/oppdrag/internal/accrual"
	"github.com/oppdrag/oppdrag/internal/app"
	"github.com/oppdrag/oppdrag/internal/decision"
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

	enqueuer, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	orderRepo := order.NewRepository(pool)
	outageRepo := outage.NewRepository(pool)
	runRepo := accrual.NewRepository(pool)
	flagStore := cache.NewFlagStore(redisClient)

	outageService := outage.NewService(outageRepo)
	decisionService := decision.NewService(orderRepo, runRepo, outageService, logger, cfg.LimitationMonths)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		DecisionHandler: decision.NewHandler(decisionService, orderRepo),
		OutageHandler:   outage.NewHandler(outageService),
		AccrualHandler:  accrual.NewHandler(runRepo, enqueuer),
		TransferHandler: transfer.NewHandler(enqueuer, flagStore),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
