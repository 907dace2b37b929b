package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/querypilot/querypilot/pkg/config"
	"github.com/querypilot/querypilot/pkg/utils"
)

func main() {
	// Initialize logging system
	utils.InitLogger()
	logger := utils.GetLogger()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to ensure default config", "error", err)
	}

	cfg, path, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "path", path, "error", err)
		os.Exit(1)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
}
