package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"greenhouse/internal/app"
	"greenhouse/internal/config"
	"greenhouse/internal/utils"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.App.LogLevel, cfg.App.LogMode)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := app.Open(cfg, logger, "daemon", false)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer infra.Close()

	d, err := app.StartDaemon(ctx, infra)
	if err != nil {
		logger.Fatal("failed to start daemon", zap.Error(err))
	}

	<-ctx.Done()
	d.Stop()
	logger.Info("shutdown complete")
}
