package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"roomsync/internal/app"
	"roomsync/pkg/config"
	"roomsync/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env")

	cf, err := config.ParseCommandFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfgPath := config.ResolveConfigPath(cf.ConfigPath, cf.SetFlags["config"])

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// flags win over file/env
	if cf.SetFlags["cache"] && cf.CacheRoot != "" {
		cfg.Cache.Root = cf.CacheRoot
	}
	user := cf.User
	if user == "" {
		user = os.Getenv("ROOMSYNC_USER")
	}

	logger.InitWith(cfg.Logging.Level, cfg.Logging.Format)

	a, err := app.New(cfg, user, cf.Room)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("roomsync_exit", "error", err)
		os.Exit(1)
	}
	logger.Info("roomsync_stopped")
}
