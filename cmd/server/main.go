package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishi-monitor/internal/config"
	"github.com/afroash/krishi-monitor/internal/logging"
	"github.com/afroash/krishi-monitor/internal/observability"
	"github.com/afroash/krishi-monitor/internal/recommend"
	"github.com/afroash/krishi-monitor/internal/server"
	"github.com/afroash/krishi-monitor/internal/storage"
	"github.com/afroash/krishi-monitor/internal/weather"
)

var version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging, "krishi-server")
	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Str("config", cfg.String()).
		Msg("Starting Krishi Monitor Server")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

func run(cfg *config.AppConfig, logger zerolog.Logger) error {
	metrics := observability.NewMetrics()
	store := server.NewMemoryStore(cfg.Storage.BufferSize)
	resolver := recommend.NewResolver(nil)

	var (
		sqliteStore      *storage.SQLiteStore
		dbWriter         *storage.DBWriter
		retentionCleaner *storage.RetentionCleaner
		cache            weather.Cache
	)

	if cfg.Database.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		var err error
		sqliteStore, err = storage.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		cache = sqliteStore

		dbWriter = storage.NewDBWriter(sqliteStore, storage.DBWriterConfig{
			BatchSize:   cfg.Database.BatchSize,
			FlushPeriod: cfg.Database.FlushPeriod,
			ChannelSize: cfg.Database.ChannelSize,
		}, logger)

		retentionCleaner = storage.NewRetentionCleaner(sqliteStore, storage.RetentionCleanerConfig{
			RetentionDays: cfg.Database.RetentionDays,
			CleanupPeriod: cfg.Database.CleanupPeriod,
		}, logger)
	}

	weatherClient := weather.NewClient(weather.Config{
		APIKey:          cfg.Weather.APIKey,
		BaseURL:         cfg.Weather.BaseURL,
		Timeout:         cfg.Weather.Timeout,
		CacheTTL:        cfg.Database.CacheTTL,
		BreakerFailures: cfg.Weather.BreakerFailures,
		BreakerOpenFor:  cfg.Weather.BreakerOpenFor,
		BreakerInterval: cfg.Weather.BreakerInterval,
	}, cache, metrics, logger)
	if cfg.Weather.APIKey == "" {
		logger.Warn().Msg("OpenWeather API key not set, weather endpoints will fail")
	}

	api := server.NewAPIHandler(resolver, store, weatherClient, logger)
	api.SetMetrics(metrics)
	api.SetDefaults(cfg.Recommendation.DefaultCity, cfg.Recommendation.DefaultCrop)
	api.SetVersion(version)
	if sqliteStore != nil {
		api.SetAuditLog(dbWriter, sqliteStore)
		api.SetStorageStats(sqliteStore)
	}

	stream := server.NewHandler(cfg.Server.AuthToken, store, logger, cfg.Server.AllowedOrigins...)
	stream.SetMetrics(metrics)
	api.SetNodeSource(stream.GetActiveNodes)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.NewRouter(api, stream, metrics, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	case err := <-serveErr:
		runErr = fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	if dbWriter != nil {
		dbWriter.Stop()
		logger.Info().Interface("stats", dbWriter.Stats()).Msg("DBWriter stopped")
	}
	if retentionCleaner != nil {
		retentionCleaner.Stop()
		logger.Info().Msg("RetentionCleaner stopped")
	}
	if sqliteStore != nil {
		if err := sqliteStore.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database")
		}
		logger.Info().Msg("SQLiteStore closed")
	}

	return runErr
}
