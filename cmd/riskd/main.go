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

	httpadapter "github.com/couchcryptid/accident-risk-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/accident-risk-service/internal/adapter/kafka"
	"github.com/couchcryptid/accident-risk-service/internal/adapter/mapbox"
	"github.com/couchcryptid/accident-risk-service/internal/adapter/mlserver"
	redisadapter "github.com/couchcryptid/accident-risk-service/internal/adapter/redis"
	"github.com/couchcryptid/accident-risk-service/internal/config"
	"github.com/couchcryptid/accident-risk-service/internal/domain"
	"github.com/couchcryptid/accident-risk-service/internal/model"
	"github.com/couchcryptid/accident-risk-service/internal/observability"
	"github.com/couchcryptid/accident-risk-service/internal/risk"
	"github.com/couchcryptid/accident-risk-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := store.Open(cfg.DataPath, logger)
	if err != nil {
		logger.Error("failed to open accident data", "path", cfg.DataPath, "error", err)
		os.Exit(1)
	}

	riskModel, err := loadModel(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to load risk model", "error", err)
		os.Exit(1)
	}

	// Geocoder chain: in-process LRU, then the shared Redis cache, then the backend.
	var geocoder domain.Geocoder
	if cfg.UseMapbox() {
		geocoder = mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, mapbox.Options{
			Country:   cfg.MapboxCountry,
			Proximity: cfg.MapboxProximity,
		}, metrics, logger)
		logger.Info("mapbox geocoding enabled", "timeout", cfg.MapboxTimeout, "country", cfg.MapboxCountry)
	} else {
		geocoder = store.NewGazetteer(records)
		logger.Info("gazetteer geocoding enabled")
	}
	if cfg.RedisAddr != "" {
		pool := redisadapter.NewPool(cfg.RedisAddr)
		defer pool.Close() //nolint:errcheck // shutdown path
		cached := redisadapter.NewCachedGeocoder(geocoder, pool, cfg.RedisCacheTTL, metrics, logger)
		if err := cached.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, geocode lookups will bypass it", "addr", cfg.RedisAddr, "error", err)
		}
		geocoder = cached
		logger.Info("redis geocode cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.RedisCacheTTL)
	}
	geocoder = mapbox.NewCachedGeocoder(geocoder, cfg.MapboxCacheSize, metrics)

	opts := []risk.Option{risk.WithLocation(cfg.ReportLocation)}
	var publisher *kafkaadapter.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaReportsTopic, logger)
		opts = append(opts, risk.WithPublisher(publisher))
		logger.Info("report feed enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaReportsTopic)
	}

	svc := risk.NewService(records, riskModel, geocoder, logger, metrics, opts...)
	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, records, svc, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// loadModel prefers the remote model server when MODEL_URL is set.
func loadModel(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.RiskModel, error) {
	if cfg.ModelURL != "" {
		client, err := mlserver.New(ctx, cfg.ModelURL, cfg.ModelTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("remote model %s: %w", cfg.ModelURL, err)
		}
		return client, nil
	}

	m, err := model.Load(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	a := m.Artifact()
	logger.Info("model loaded",
		"path", cfg.ModelPath,
		"version", a.Version,
		"convention", a.Convention,
		"algorithm", a.Algorithm,
	)
	return m, nil
}
