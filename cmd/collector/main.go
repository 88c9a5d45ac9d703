package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/fernwatch/satveg-collector/internal/adapter/http"
	kafkaadapter "github.com/fernwatch/satveg-collector/internal/adapter/kafka"
	"github.com/fernwatch/satveg-collector/internal/adapter/mapbox"
	"github.com/fernwatch/satveg-collector/internal/adapter/sentinelhub"
	"github.com/fernwatch/satveg-collector/internal/adapter/warehouse"
	"github.com/fernwatch/satveg-collector/internal/collector"
	"github.com/fernwatch/satveg-collector/internal/config"
	"github.com/fernwatch/satveg-collector/internal/domain"
	"github.com/fernwatch/satveg-collector/internal/observability"
	"github.com/fernwatch/satveg-collector/internal/pipeline"
	"github.com/fernwatch/satveg-collector/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Warehouse connection, bounded by the configured timeout.
	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.MongoTimeout)
	store, err := warehouse.NewStore(connectCtx, cfg, logger, metrics)
	cancelConnect()
	if err != nil {
		logger.Error("failed to connect warehouse", "error", err)
		os.Exit(1)
	}

	// Geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	imagery := sentinelhub.NewClient(cfg, logger, metrics)
	planner := collector.NewPlanner(store, logger)
	aggregator := collector.NewAggregator(imagery, cfg.MaxImagesPerMonth, logger, metrics)
	col := collector.New(planner, aggregator, store, cfg.RegionBufferMeters, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)

	var publisher pipeline.StatusPublisher
	var writer *kafkaadapter.Writer
	if cfg.StatusEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("status events enabled", "topic", cfg.KafkaStatusTopic)
	}

	p := pipeline.New(reader, col, publisher, geocoder, logger, metrics, cfg.BatchSize)

	sessions := session.NewStore()
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, col, store, sessions, geocoder, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start request pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Error("warehouse close error", "error", err)
	}

	logger.Info("shutdown complete")
}
