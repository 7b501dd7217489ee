package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/project-portal/registry-backend/internal/config"
	"carbon-scribe/project-portal/registry-backend/internal/database"
	"carbon-scribe/project-portal/registry-backend/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	log, err := logger.New(cfg)
	if err != nil {
		zap.NewExample().Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, log); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}
}
