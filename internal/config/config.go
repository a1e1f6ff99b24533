package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds all toolkit settings, populated from environment variables.
type Config struct {
	DataDir   string
	LogLevel  string
	LogFormat string

	// MetricsAddr enables the metrics/health HTTP listener when non-empty.
	MetricsAddr     string
	ShutdownTimeout time.Duration

	// Earth Engine export service.
	EEBaseURL string
	EEProject string
	EEToken   string

	// LANDFIRE product service.
	LandfireBaseURL string

	// Overpass API.
	OverpassURL     string
	OverpassRetries int
	OverpassPause   time.Duration
	OverpassTimeout time.Duration

	// Optional Kafka feature sink (feature-flagged via KAFKA_ENABLED / KAFKA_BROKERS).
	KafkaBrokers      []string
	KafkaFeatureTopic string
	KafkaEnabled      bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	overpassPause, err := parseDuration("OVERPASS_PAUSE", "2s")
	if err != nil {
		return nil, err
	}
	overpassTimeout, err := parseDuration("OVERPASS_TIMEOUT", "10m")
	if err != nil {
		return nil, err
	}

	brokers := splitNonEmpty(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		DataDir:   envOrDefault("DATA_DIR", "data"),
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "text"),

		MetricsAddr:     os.Getenv("METRICS_ADDR"),
		ShutdownTimeout: shutdownTimeout,

		EEBaseURL: envOrDefault("EE_BASE_URL", "https://earthengine.googleapis.com/v1"),
		EEProject: os.Getenv("EE_PROJECT"),
		EEToken:   os.Getenv("EE_TOKEN"),

		LandfireBaseURL: envOrDefault("LANDFIRE_BASE_URL",
			"https://lfps.usgs.gov/arcgis/rest/services/LandfireProductService/GPServer/LandfireProductService"),

		OverpassURL:     envOrDefault("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
		OverpassRetries: parseIntOrDefault("OVERPASS_RETRIES", 3),
		OverpassPause:   overpassPause,
		OverpassTimeout: overpassTimeout,

		KafkaBrokers:      brokers,
		KafkaFeatureTopic: envOrDefault("KAFKA_FEATURE_TOPIC", "osm-features"),
		KafkaEnabled:      kafkaEnabled,
	}

	if cfg.OverpassRetries < 1 {
		return nil, errors.New("OVERPASS_RETRIES must be at least 1")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return d, nil
}

func parseIntOrDefault(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
