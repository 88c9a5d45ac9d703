package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers      []string
	KafkaRequestTopic string
	KafkaStatusTopic  string
	KafkaGroupID      string
	StatusEnabled     bool

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// MongoDB warehouse configuration.
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MongoTimeout    time.Duration

	// Sentinel Hub (Copernicus Data Space) imagery configuration.
	SHClientID     string
	SHClientSecret string
	SHTokenURL     string
	SHBaseURL      string
	SHTimeout      time.Duration

	// Collection tuning.
	MaxImagesPerMonth  int
	RegionBufferMeters float64

	// Mapbox reverse geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	flushInterval, err := parseDuration("BATCH_FLUSH_INTERVAL", "500ms")
	if err != nil {
		return nil, err
	}
	mongoTimeout, err := parseDuration("MONGO_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	shTimeout, err := parseDuration("SH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	batchSize, err := parseInt("BATCH_SIZE", 20)
	if err != nil {
		return nil, err
	}
	maxImages, err := parseInt("MAX_IMAGES_PER_MONTH", 3)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseInt("MAPBOX_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	bufferMeters, err := parseFloat("REGION_BUFFER_METERS", 5000)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	statusEnabled := true
	if v := os.Getenv("STATUS_EVENTS_ENABLED"); v != "" {
		statusEnabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:      parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaRequestTopic: envOrDefault("KAFKA_REQUEST_TOPIC", "collection-requests"),
		KafkaStatusTopic:  envOrDefault("KAFKA_STATUS_TOPIC", "collection-status"),
		KafkaGroupID:      envOrDefault("KAFKA_GROUP_ID", "satveg-collector"),
		StatusEnabled:     statusEnabled,

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		MongoURI:        envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   envOrDefault("MONGO_DATABASE", "satellite_data"),
		MongoCollection: envOrDefault("MONGO_COLLECTION", "monthly_observations"),
		MongoTimeout:    mongoTimeout,

		SHClientID:     os.Getenv("SH_CLIENT_ID"),
		SHClientSecret: os.Getenv("SH_CLIENT_SECRET"),
		SHTokenURL:     envOrDefault("SH_TOKEN_URL", "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"),
		SHBaseURL:      envOrDefault("SH_BASE_URL", "https://sh.dataspace.copernicus.eu"),
		SHTimeout:      shTimeout,

		MaxImagesPerMonth:  maxImages,
		RegionBufferMeters: bufferMeters,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: cacheSize,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaRequestTopic == "" {
		return nil, errors.New("KAFKA_REQUEST_TOPIC is required")
	}
	if cfg.StatusEnabled && cfg.KafkaStatusTopic == "" {
		return nil, errors.New("STATUS_EVENTS_ENABLED is true but KAFKA_STATUS_TOPIC is not set")
	}
	if cfg.SHClientID == "" || cfg.SHClientSecret == "" {
		return nil, errors.New("SH_CLIENT_ID and SH_CLIENT_SECRET are required")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}
