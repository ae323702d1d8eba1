package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/BragerSync/internal/auth"
	"github.com/KevinKickass/BragerSync/internal/bragerone"
	"github.com/KevinKickass/BragerSync/internal/config"
	"github.com/KevinKickass/BragerSync/internal/storage"
	"github.com/KevinKickass/BragerSync/internal/system"
	"github.com/carlmjohnson/versioninfo"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_FILE", "configs/config.yaml"), "path to config file")
	genKey := flag.Bool("gen-key", false, "print a new API key and its hash, then exit")
	versioninfo.AddFlag(nil)
	flag.Parse()

	if *genKey {
		key, hash, err := auth.NewKeyHasher().GenerateKey()
		if err != nil {
			log.Fatalf("Failed to generate key: %v", err)
		}
		fmt.Printf("key:  %s\nhash: %s\n", key, hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	version := versioninfo.Short()
	logger.Info("Config loaded",
		zap.String("path", *configPath),
		zap.String("version", version),
		zap.String("profile", cfg.Devices.Profile))

	var tokens bragerone.TokenStore
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := storage.NewPostgresClient(ctx, cfg.Database)
		if err == nil {
			err = db.EnsureSchema(ctx)
		}
		cancel()
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		tokens = db
		logger.Info("Backend tokens persisted in PostgreSQL")
	}

	lifecycle, err := system.NewLifecycleManager(cfg, tokens, version, logger)
	if err != nil {
		logger.Fatal("Failed to initialise system", zap.Error(err))
	}

	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("BragerSync stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", level, err)
	}
	cfg.Level = lvl
	return cfg.Build()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
