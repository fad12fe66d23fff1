package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/romaneios/internal/app"
	"github.com/odyssey-erp/romaneios/internal/reconcile"
	"github.com/odyssey-erp/romaneios/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
	if !cfg.RedisEnabled() {
		logger.Error("worker requires REDIS_ADDR")
		os.Exit(1)
	}

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build application", slog.Any("error", err))
		os.Exit(1)
	}
	defer container.Close()

	verifyAll := reconcile.NewVerifyAllJob(container.Orchestrator, logger)
	verifyOne := reconcile.NewVerifyOneJob(container.Orchestrator, logger)

	var cron []jobs.CronRegistration
	if cfg.VerifyEnabled {
		task, err := jobs.NewVerifyAllTask(time.Time{})
		if err != nil {
			logger.Error("build verify task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cronSpec(cfg.VerifyInterval), Task: task})
	} else {
		logger.Info("automatic verification disabled, only on-demand tasks run")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.VerifyConcurrency + 1,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskVerifyAll, Handler: verifyAll.Handle},
			{Type: jobs.TaskVerifyOne, Handler: verifyOne.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.Duration("interval", cfg.VerifyInterval), slog.Int("max_attempts", cfg.VerifyMaxAttempts))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func cronSpec(interval time.Duration) string {
	return fmt.Sprintf("@every %s", interval)
}
