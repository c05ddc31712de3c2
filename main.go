package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/masterybot/internal/ai"
	"github.com/example/masterybot/internal/bot"
	"github.com/example/masterybot/internal/config"
	"github.com/example/masterybot/internal/database"
	"github.com/example/masterybot/internal/dedup"
	"github.com/example/masterybot/internal/engine"
	"github.com/example/masterybot/internal/logger"
	"github.com/example/masterybot/internal/metrics"
	"github.com/example/masterybot/internal/scheduler"
	"github.com/example/masterybot/internal/signatures"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	engineCfg, err := config.LoadEngineConfig(cfg.EngineConfigPath)
	if err != nil {
		log.Fatal("Failed to load engine config", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.Init()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("Metrics listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	dsn := cfg.SQLitePath
	if cfg.DBType == "postgres" {
		dsn = cfg.DatabaseURL
	}
	db, err := database.Connect(cfg.DBType, dsn)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	var store dedup.Store = database.NewSignatureRepository(db)
	if cfg.RedisAddr != "" {
		redisStore, err := signatures.NewRedisStore(ctx, cfg.RedisAddr, "masterybot:signatures", log)
		if err != nil {
			log.Warn("Redis unavailable, using database signature store", "error", err)
		} else {
			defer redisStore.Close()
			store = redisStore
		}
	}

	opts := engine.Options{
		Config:     engineCfg,
		Signatures: signatures.NewFailOpen(store, log),
		Embedder:   dedup.NewHashEmbedder(),
		Logger:     log,
	}
	if cfg.OpenAIKey != "" {
		client, err := ai.New(cfg.OpenAIKey, cfg.OpenAIModel, engineCfg.GenerationRatePerSecond)
		if err != nil {
			log.Fatal("Failed to create generation client", "error", err)
		}
		opts.Generator = client
		opts.Embedder = client
	} else {
		log.Info("OPENAI_API_KEY not set, serving local items only")
	}

	registry := engine.NewRegistry(database.NewStateRepository(db), opts)

	b, err := bot.New(cfg.TelegramToken, registry, bot.DefaultConfig(), log)
	if err != nil {
		log.Fatal("Failed to create bot", "error", err)
	}

	schedOpts := scheduler.DefaultOptions()
	schedOpts.SnapshotInterval = time.Duration(cfg.SnapshotIntervalMinutes) * time.Minute
	schedOpts.ReconcileInterval = time.Duration(cfg.ReconcileIntervalMinutes) * time.Minute
	schedOpts.StartHour = cfg.NotificationStartHour
	schedOpts.EndHour = cfg.NotificationEndHour
	schedOpts.Location = engineCfg.Location()
	sched := scheduler.New(registry, b, schedOpts, log)
	if err := sched.Start(); err != nil {
		log.Fatal("Failed to start scheduler", "error", err)
	}

	log.Info("Bot started")
	if err := b.Start(ctx); err != nil {
		log.Error("Bot stopped with error", "error", err)
	}

	sched.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := registry.SaveAll(shutdownCtx); err != nil {
		log.Error("Failed to save engine states", "error", err)
	}
	log.Info("Shutdown complete")
}
