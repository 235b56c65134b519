package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // REPORT_TIMEZONE must resolve on minimal images

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Geocoder backends selectable with GEOCODER.
const (
	GeocoderAuto      = "auto"
	GeocoderMapbox    = "mapbox"
	GeocoderGazetteer = "gazetteer"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DataPath     string
	ModelPath    string
	ModelURL     string
	ModelTimeout time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Geocoder is one of GeocoderAuto, GeocoderMapbox, GeocoderGazetteer.
	// Auto uses Mapbox when it is enabled and the gazetteer otherwise.
	Geocoder string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
	MapboxCountry   string
	MapboxProximity string

	// Shared geocode cache. Disabled when RedisAddr is empty.
	RedisAddr     string
	RedisCacheTTL time.Duration

	// Report feed. Disabled when KafkaBrokers is empty.
	KafkaBrokers      []string
	KafkaReportsTopic string

	// ReportLocation is the zone user reports are stamped in.
	ReportLocation *time.Location
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is applied first when present; variables
// already set in the environment take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	modelTimeout, err := parsePositiveDuration("MODEL_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	redisTTL, err := parsePositiveDuration("REDIS_CACHE_TTL", "24h")
	if err != nil {
		return nil, err
	}
	if redisTTL < time.Second {
		return nil, errors.New("invalid REDIS_CACHE_TTL: must be at least 1s")
	}

	tzName := sharedcfg.EnvOrDefault("REPORT_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_TIMEZONE %q: %w", tzName, err)
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		DataPath:     sharedcfg.EnvOrDefault("DATA_PATH", "data/kolkata_accidents.csv"),
		ModelPath:    sharedcfg.EnvOrDefault("MODEL_PATH", "models/accident_model.json"),
		ModelURL:     os.Getenv("MODEL_URL"),
		ModelTimeout: modelTimeout,

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Geocoder: strings.ToLower(sharedcfg.EnvOrDefault("GEOCODER", GeocoderAuto)),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
		MapboxCountry:   sharedcfg.EnvOrDefault("MAPBOX_COUNTRY", "in"),
		MapboxProximity: sharedcfg.EnvOrDefault("MAPBOX_PROXIMITY", "88.3639,22.5726"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisCacheTTL: redisTTL,

		KafkaBrokers:      sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaReportsTopic: sharedcfg.EnvOrDefault("KAFKA_REPORTS_TOPIC", "accident-reports"),

		ReportLocation: loc,
	}

	switch cfg.Geocoder {
	case GeocoderAuto, GeocoderGazetteer:
	case GeocoderMapbox:
		if cfg.MapboxToken == "" {
			return nil, errors.New("GEOCODER is mapbox but MAPBOX_TOKEN is not set")
		}
		cfg.MapboxEnabled = true
	default:
		return nil, fmt.Errorf("invalid GEOCODER %q: must be auto, mapbox, or gazetteer", cfg.Geocoder)
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.DataPath == "" {
		return nil, errors.New("DATA_PATH is required")
	}

	return cfg, nil
}

// UseMapbox reports whether the Mapbox geocoder should serve lookups.
func (c *Config) UseMapbox() bool {
	switch c.Geocoder {
	case GeocoderMapbox:
		return true
	case GeocoderGazetteer:
		return false
	default:
		return c.MapboxEnabled
	}
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
