package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	Feed      FeedConfig
	Worker    WorkerConfig
	Kafka     KafkaConfig
	Ingestion IngestionConfig
	DB        DatabaseConfig
	Logging   LoggingConfig
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host         string
	Port         int
	RateLimitRPS int

	// TrustedProxies may set X-Forwarded-For; empty trusts none.
	TrustedProxies []string
}

type FeedConfig struct {
	SnapshotLimit int
	SweepInterval time.Duration
	RetryInterval time.Duration
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

// KafkaConfig disables lifecycle export when Brokers is empty.
type KafkaConfig struct {
	Brokers string
	Topic   string
}

type IngestionConfig struct {
	USGSEnabled       bool
	USGSURL           string
	USGSPollInterval  time.Duration
	USGSMinMagnitude  float64
	GDACSEnabled      bool
	GDACSURL          string
	GDACSPollInterval time.Duration
	AlertTTL          time.Duration
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "localhost"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS:   getEnvInt("RATE_LIMIT_RPS", 5),
			TrustedProxies: getEnvList("TRUSTED_PROXIES"),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Feed: FeedConfig{
			SnapshotLimit: getEnvInt("FEED_SNAPSHOT_LIMIT", 50),
			SweepInterval: getEnvDuration("FEED_SWEEP_INTERVAL", 30*time.Second),
			RetryInterval: getEnvDuration("FEED_RETRY_INTERVAL", 2*time.Second),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		Kafka: KafkaConfig{
			Brokers: getEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_TOPIC", "alerts.lifecycle"),
		},
		Ingestion: IngestionConfig{
			USGSEnabled:       getEnvBool("USGS_ENABLED", false),
			USGSURL:           getEnv("USGS_URL", "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_hour.geojson"),
			USGSPollInterval:  getEnvDuration("USGS_POLL_INTERVAL", 5*time.Minute),
			USGSMinMagnitude:  getEnvFloat("USGS_MIN_MAGNITUDE", 4.5),
			GDACSEnabled:      getEnvBool("GDACS_ENABLED", false),
			GDACSURL:          getEnv("GDACS_URL", "https://www.gdacs.org/xml/rss.xml"),
			GDACSPollInterval: getEnvDuration("GDACS_POLL_INTERVAL", 10*time.Minute),
			AlertTTL:          getEnvDuration("INGEST_ALERT_TTL", 6*time.Hour),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/alerts.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if c.Server.Port == c.GRPC.Port {
		return fmt.Errorf("server and gRPC ports must differ: %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit must not be negative: %d", c.Server.RateLimitRPS)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Feed.SnapshotLimit < 1 {
		return fmt.Errorf("snapshot limit must be positive: %d", c.Feed.SnapshotLimit)
	}
	if c.Feed.SweepInterval < time.Second {
		return fmt.Errorf("sweep interval must be at least 1 second")
	}
	if c.Feed.RetryInterval <= 0 {
		return fmt.Errorf("snapshot retry interval must be positive")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be positive: %d", c.Worker.Count)
	}
	if c.Worker.BufferSize < 0 {
		return fmt.Errorf("worker buffer size must not be negative: %d", c.Worker.BufferSize)
	}
	if c.Kafka.Brokers != "" && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}

	if c.Ingestion.USGSPollInterval < time.Minute {
		return fmt.Errorf("USGS poll interval must be at least 1 minute")
	}
	if c.Ingestion.GDACSPollInterval < time.Minute {
		return fmt.Errorf("GDACS poll interval must be at least 1 minute")
	}
	if c.Ingestion.AlertTTL <= 0 {
		return fmt.Errorf("ingested alert TTL must be positive")
	}

	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.GRPC.Port)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
