package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/maltedev/business-contact-scraper/internal/ai"
	"github.com/maltedev/business-contact-scraper/internal/api"
	"github.com/maltedev/business-contact-scraper/internal/browser"
	"github.com/maltedev/business-contact-scraper/internal/config"
	"github.com/maltedev/business-contact-scraper/internal/database"
	"github.com/maltedev/business-contact-scraper/internal/events"
	"github.com/maltedev/business-contact-scraper/internal/jobs"
	"github.com/maltedev/business-contact-scraper/internal/parser"
	"github.com/maltedev/business-contact-scraper/internal/pipeline"
	"github.com/maltedev/business-contact-scraper/internal/queue"
	"github.com/maltedev/business-contact-scraper/internal/ratelimit"
	"github.com/maltedev/business-contact-scraper/internal/scraper"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.DatabaseConfig())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
		PollInterval: cfg.Redis.PollInterval,
		BatchSize:    100,
	})
	go func() {
		if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("relay stopped with error", "error", err)
		}
	}()

	extractor, err := ai.New(ctx, cfg.AIConfig(), logger)
	if err != nil {
		logger.Error("failed to initialize AI extractor", "error", err)
		os.Exit(1)
	}
	if _, disabled := extractor.(ai.Disabled); disabled {
		logger.Info("GEMINI_API_KEY not set, search pages use deterministic extraction only")
	}

	limiter := ratelimit.NewAdaptiveLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax, cfg.Scraper.RequestsPerMin)

	browserOpts := cfg.BrowserOptions()
	sessions := func(ctx context.Context) (scraper.Session, error) {
		b, err := browser.New(browserOpts, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	orchestrator := pipeline.New(sessions, db, logger,
		scraper.NewListingConnector(cfg.Scraper.MapMaxResults, limiter, logger),
		scraper.NewSearchConnector(cfg.Scraper.SearchMaxResults, parser.NewContactParser(), extractor, limiter, logger),
		scraper.NewRegistryConnector(scraper.RegistryOptions{
			BaseURL:      cfg.Scraper.RegistryBaseURL,
			ItemsPerPage: cfg.Scraper.ItemsPerPage,
			SkipDetails:  cfg.Scraper.SkipDetails,
		}, limiter, logger),
	).WithNotifier(events.NewPublisher(db, cfg.Redis.Stream, logger))

	jobManager := jobs.NewManager(orchestrator, queue.NewInMemoryQueue(), cfg.Scraper.Workers, logger)
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := jobManager.Start(ctx); err != nil {
			logger.Error("job workers stopped with error", "error", err)
		}
	}()

	handlers := api.NewHandlers(db, jobManager, relay, logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.WriteTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	handlers.Routes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}

		// queued runs drain before the relay stops
		if err := jobManager.Close(); err != nil {
			logger.Error("failed to close job queue", "error", err)
		}
		select {
		case <-workersDone:
		case <-shutdownCtx.Done():
			logger.Warn("job workers did not finish before shutdown timeout")
		}
		cancel()
	}()

	logger.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("server stopped")
}
