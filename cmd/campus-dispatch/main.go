package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"campus-dispatch/internal/config"
	"campus-dispatch/internal/logger"
	"campus-dispatch/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "campus-dispatch")
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("Starting campus dispatch service",
		zap.String("log_level", cfg.Log.Level),
		zap.String("notifier_backend", cfg.Notifier.Backend),
		zap.Int("max_guards", cfg.Dispatch.MaxGuards),
		zap.Int("response_deadline_sec", cfg.Dispatch.ResponseDeadlineSec),
	)

	svc, err := service.NewDispatchService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create dispatch service", zap.Error(err))
	}

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		log.Fatal("Failed to start dispatch service", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info("Shutting down", zap.String("signal", sig.String()))
	svc.Stop()
}
