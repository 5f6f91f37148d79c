package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/maltedev/webscout/internal/api"
	"github.com/maltedev/webscout/internal/browser"
	"github.com/maltedev/webscout/internal/cache"
	"github.com/maltedev/webscout/internal/config"
	"github.com/maltedev/webscout/internal/database"
	"github.com/maltedev/webscout/internal/debuglog"
	"github.com/maltedev/webscout/internal/extractor"
	"github.com/maltedev/webscout/internal/settings"
	"github.com/maltedev/webscout/internal/shell"
	"github.com/maltedev/webscout/internal/storage"
	"github.com/maltedev/webscout/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging. Everything also lands in the debug ring served by the API.
	debug := debuglog.NewHandler(
		logger.NewHandler(os.Stdout, cfg.Logging.Level, cfg.Logging.Format),
		debuglog.Options{Capacity: cfg.Shell.DebugCapacity},
	)
	log := slog.New(debug)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := storage.NewFileSink(cfg.Export.Dir)
	if err != nil {
		log.Error("failed to prepare export directory", "error", err)
		os.Exit(1)
	}

	var (
		settingsStore settings.Store     = settings.NewMemoryStore()
		productCache  cache.ProductCache = cache.NewMemory()
		redisClient   *redis.Client
	)
	if cfg.RedisEnabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		settingsStore = settings.NewRedisStore(redisClient)
		productCache = cache.NewRedis(redisClient, cfg.Redis.CacheTTL)
	}

	// First start: write the install defaults once.
	existing, err := settingsStore.Get(ctx)
	if err != nil {
		log.Warn("failed to read settings", "error", err)
	} else if len(existing) == 0 {
		if err := settings.Install(ctx, settingsStore); err != nil {
			log.Warn("failed to install default settings", "error", err)
		}
	}

	deps := api.Deps{
		Extractor:       extractor.New(log),
		Debug:           debug,
		ResponseTimeout: cfg.Shell.ResponseTimeout,
	}
	deps.Shell = shell.NewController(nil, settingsStore, productCache, sink, log, shell.Options{
		DetectAttempts: cfg.Shell.DetectAttempts,
		DetectInterval: cfg.Shell.DetectInterval,
	})

	if cfg.DatabaseEnabled() {
		db, err := database.New(ctx, cfg.DatabaseConfig())
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		outbox := database.NewOutboxRepository(db)
		deps.Products = database.NewProductRepository(db)
		deps.Outbox = outbox

		if redisClient != nil && cfg.Redis.RelayEnabled {
			relay := database.NewRelay(outbox, redisClient, log, database.RelayConfig{
				PollInterval: cfg.Redis.RelayPoll,
				BatchSize:    100,
			})
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	if cfg.Browser.Enabled {
		b, err := browser.New(cfg.BrowserOptions(), log)
		if err != nil {
			// Clients can still post rendered html.
			log.Warn("browser unavailable, rendering disabled", "error", err)
		} else {
			defer b.Close()
			deps.Renderer = b
		}
	}

	handlers := api.NewHandlers(deps, log)
	router := api.NewRouter(handlers, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting",
		"addr", cfg.Addr(),
		"database", cfg.DatabaseEnabled(),
		"redis", cfg.RedisEnabled(),
		"renderer", deps.Renderer != nil)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
