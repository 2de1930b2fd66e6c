// cmd/seeder/main.go
package main

import (
	"context"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-dispatch/internal/config"
	"github.com/unclebandit/newsletter-dispatch/internal/db"
	"github.com/unclebandit/newsletter-dispatch/internal/logging"
)

var seedFiles = []string{
	"seed/schema.sql",
	"seed/subscribers.sql",
	"seed/newsletters.sql",
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal("❌ loading config: ", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal("❌ building logger: ", err)
	}
	defer logger.Sync()

	database, err := db.Open(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("❌ database unavailable", zap.Error(err))
	}
	defer database.Close()

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Fatal("failed to read seed file", zap.String("file", file), zap.Error(err))
		}

		if _, err := database.ExecContext(ctx, string(content)); err != nil {
			logger.Fatal("failed to execute seed file", zap.String("file", file), zap.Error(err))
		}
		logger.Info("Seeded", zap.String("file", file))
	}

	logger.Info("Database seeding completed successfully!")
}
