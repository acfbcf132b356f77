// Medbridge is the backend for a doctor/patient consultation translator. It
// stores conversations, translates and voices each message, and summarizes
// encounters.
//
// Usage:
//
//	medbridge [--config /path/to/medbridge.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/medbridge/internal/agent"
	"github.com/MikeSquared-Agency/medbridge/internal/api"
	"github.com/MikeSquared-Agency/medbridge/internal/cache"
	"github.com/MikeSquared-Agency/medbridge/internal/config"
	"github.com/MikeSquared-Agency/medbridge/internal/gateway"
	"github.com/MikeSquared-Agency/medbridge/internal/hermes"
	"github.com/MikeSquared-Agency/medbridge/internal/pipeline"
	"github.com/MikeSquared-Agency/medbridge/internal/speech"
	"github.com/MikeSquared-Agency/medbridge/internal/speech/piper"
	"github.com/MikeSquared-Agency/medbridge/internal/store"
)

// version is set at build time via ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("medbridge %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.Log)
	logger := slog.Default()

	logger.Info("medbridge starting", "version", version, "port", cfg.Port, "speech_mode", cfg.Speech.Mode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// Model gateway
	if cfg.OpenRouter.APIKey == "" {
		logger.Warn("OPENROUTER_API_KEY not set, model calls will return a missing-key error")
	}
	llm := gateway.New(gateway.Config{
		APIKey:  cfg.OpenRouter.APIKey,
		Model:   cfg.OpenRouter.Model,
		BaseURL: cfg.OpenRouter.BaseURL,
		Referer: cfg.OpenRouter.Referer,
		Title:   cfg.OpenRouter.Title,
	}, logger)
	logger.Info("model gateway ready", "model", llm.Model(), "base_url", cfg.OpenRouter.BaseURL)

	caps := agent.New(llm, logger)

	// Speech
	synth := speech.New(piper.New(cfg.Speech.PiperEndpoint, logger), speech.Config{
		Mode:      cfg.Speech.Mode,
		AudioDir:  cfg.Speech.AudioDir,
		URLPrefix: cfg.Speech.URLPrefix,
	}, logger)
	opts := api.Options{Port: cfg.Port, SpeechMode: cfg.Speech.Mode}
	if cfg.Speech.Mode == config.SpeechModeFile {
		if err := os.MkdirAll(cfg.Speech.AudioDir, 0o755); err != nil {
			logger.Error("failed to create audio directory", "dir", cfg.Speech.AudioDir, "error", err)
			os.Exit(1)
		}
		opts.StaticPrefix = cfg.Speech.URLPrefix
		opts.StaticDir = cfg.Speech.AudioDir
	}
	logger.Info("speech ready", "piper", cfg.Speech.PiperEndpoint, "mode", synth.Mode())

	// NATS/Hermes (optional)
	var publisher pipeline.Publisher
	var apiPublisher api.Publisher
	if cfg.Nats.URL != "" {
		hermesClient, err := hermes.NewClient(ctx, cfg.Nats.URL, cfg.Nats.Token, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		publisher, apiPublisher = hermesClient, hermesClient
		logger.Info("NATS connected", "url", cfg.Nats.URL)
	} else {
		logger.Warn("NATS not configured, running without domain events")
	}

	// Redis history cache (optional)
	var history *cache.History
	if cfg.Redis.Addr != "" {
		history, err = cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.HistoryTTL, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without history cache", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer history.Close()
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
	}

	pipe := pipeline.New(caps, synth, db, publisher, logger)

	srv := api.NewServer(opts, api.Deps{
		Store:      db,
		Pipeline:   pipe,
		Summarizer: caps,
		Cache:      history,
		Publisher:  apiPublisher,
		Logger:     logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("medbridge ready", "port", cfg.Port)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	logger.Info("medbridge stopped")
}
