package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"optionsfi-keeper/internal/app"
	"optionsfi-keeper/internal/config"
	"optionsfi-keeper/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	assets := make([]string, 0, len(cfg.Vaults))
	for _, v := range cfg.Vaults {
		assets = append(assets, v.AssetID)
	}
	log.Info("config loaded",
		zap.String("path", *configPath),
		zap.Strings("vaults", assets),
		zap.Int("makers", len(cfg.RFQ.Makers)),
		zap.Duration("tick_interval", cfg.Keeper.TickInterval),
		zap.Duration("reconcile_interval", cfg.Keeper.ReconcileInterval),
		zap.Bool("auto_reconcile", cfg.Keeper.AutoReconcileValue()),
		zap.Bool("telegram", cfg.Telegram.Enabled))

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	log.Info("app initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && err != context.Canceled {
		log.Error("app terminated", zap.Error(err))
		os.Exit(1)
	}
}
