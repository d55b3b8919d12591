package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	RedisAddr   string
	JWTSecret   string
	Kafka       KafkaConfig
	Upstream    UpstreamConfig
	Reconcile   ReconcileConfig

	CatalogCacheTTL    time.Duration
	OTLPEndpoint       string
	CORSAllowedOrigins []string
}

type KafkaConfig struct {
	Brokers           []string
	TransactionsTopic string
	RechargesTopic    string
	GroupID           string
}

type UpstreamConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
}

type ReconcileConfig struct {
	Interval   time.Duration
	PendingAge time.Duration
	BatchSize  int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		PostgresDSN: getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=api_panel sslmode=disable"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		JWTSecret:   getEnv("JWT_SECRET", "supersecret"),
		Kafka: KafkaConfig{
			Brokers:           splitList(getEnv("KAFKA_BROKER", "localhost:9092")),
			TransactionsTopic: getEnv("KAFKA_TRANSACTIONS_TOPIC", "transactions"),
			RechargesTopic:    getEnv("KAFKA_RECHARGES_TOPIC", "recharges"),
			GroupID:           getEnv("KAFKA_GROUP_ID", "reseller-gateway"),
		},
		Upstream: UpstreamConfig{
			Timeout:     getDuration("UPSTREAM_TIMEOUT", 5*time.Second),
			MaxBodySize: getInt64("UPSTREAM_MAX_BODY", 1<<20),
		},
		Reconcile: ReconcileConfig{
			Interval:   getDuration("RECONCILE_INTERVAL", time.Minute),
			PendingAge: getDuration("RECONCILE_PENDING_AGE", 10*time.Minute),
			BatchSize:  int(getInt64("RECONCILE_BATCH_SIZE", 100)),
		},
		CatalogCacheTTL:    getDuration("CATALOG_CACHE_TTL", 5*time.Second),
		OTLPEndpoint:       getEnv("OTLP_ENDPOINT", ""),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	clampPendingAge(cfg)

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.Kafka.Brokers,
		"upstream_timeout", cfg.Upstream.Timeout,
		"reconcile_pending_age", cfg.Reconcile.PendingAge,
		"catalog_cache_ttl", cfg.CatalogCacheTTL)
	return cfg
}

// pendingAgeHeadroom covers settlement after the slowest upstream call.
const pendingAgeHeadroom = 30 * time.Second

// clampPendingAge keeps the sweeper away from records whose upstream call may
// still be in flight.
func clampPendingAge(cfg *Config) {
	minAge := cfg.Upstream.Timeout + pendingAgeHeadroom
	if cfg.Reconcile.PendingAge >= minAge {
		return
	}
	slog.Warn("RECONCILE_PENDING_AGE below upstream timeout plus headroom, raising it",
		"configured", cfg.Reconcile.PendingAge,
		"upstream_timeout", cfg.Upstream.Timeout,
		"pending_age", minAge)
	cfg.Reconcile.PendingAge = minAge
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return d
}

func getInt64(key string, defaultValue int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
