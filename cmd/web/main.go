package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"greenhouse/internal/app"
	"greenhouse/internal/config"
	"greenhouse/internal/daemon"
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

	infra, err := app.Open(cfg, logger, "web", false)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer infra.Close()

	control, err := daemon.NewClient(infra.Bus, cfg.App.AgentID+"-web", cfg.Daemon.RequestTimeout, logger.Named("daemon"))
	if err != nil {
		logger.Fatal("failed to reach daemon control", zap.Error(err))
	}

	webServer, err := app.NewWeb(infra, control)
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
