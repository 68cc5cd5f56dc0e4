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

// All-in-one: web server, daemon runtime and sensor input in one process.
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

	infra, err := app.Open(cfg, logger, "all", true)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer infra.Close()

	d, err := app.StartDaemon(ctx, infra)
	if err != nil {
		logger.Fatal("failed to start daemon", zap.Error(err))
	}
	defer d.Stop()

	webServer, err := app.NewWeb(infra, d.Engine)
	if err != nil {
		logger.Fatal("failed to build web server", zap.Error(err))
	}

	if conn := app.StartMDNS(cfg.MDNS.LocalName, logger.Named("mdns")); conn != nil {
		defer conn.Close()
	}

	if err := app.ServeWeb(ctx, infra, webServer); err != nil {
		logger.Error("web server failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
