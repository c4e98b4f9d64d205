package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/business-contact-scraper/internal/config"
	"github.com/maltedev/business-contact-scraper/internal/database"
	"github.com/maltedev/business-contact-scraper/internal/events"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	db, err := database.New(ctx, cfg.DatabaseConfig())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	consumer := events.NewConsumer(rdb,
		events.NewRunExporter(db, cfg.Consumer.ExportDir, logger),
		logger,
		events.ConsumerConfig{
			Stream: cfg.Redis.Stream,
			Group:  cfg.Consumer.Group,
			Name:   cfg.Consumer.Name,
		})

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Consumer stopped")
}
