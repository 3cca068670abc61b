// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Verification transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Session stores.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// VerifyTransport selects how the verification service is reached: "http" or "grpc".
	VerifyTransport string `mapstructure:"VERIFY_TRANSPORT"`
	// VerifyAPIURL is the base URL of the HTTP verification API (e.g. http://localhost:5000).
	VerifyAPIURL string `mapstructure:"VERIFY_API_URL"`
	// VerifyGRPCAddr is the gRPC verification service address; used when VerifyTransport is grpc.
	VerifyGRPCAddr string `mapstructure:"VERIFY_GRPC_ADDR"`
	// RequestTimeout bounds each call to the verification service (e.g. "15s").
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`
	// ResendCooldownSeconds is how long resend stays locked after a code is sent (1-600; default 30).
	ResendCooldownSeconds int `mapstructure:"RESEND_COOLDOWN_SECONDS"`

	// SessionStore is where the verified session is handed off: memory, file, postgres or redis.
	SessionStore string `mapstructure:"SESSION_STORE"`
	// SessionFile is the JSON file used by the file store.
	SessionFile string `mapstructure:"SESSION_FILE"`
	// DatabaseURL is the Postgres DSN; required when SessionStore is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is host:port of Redis; required when SessionStore is redis.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// SessionTTLRaw is how long a stored session lives when its token carries no expiry (e.g. "168h").
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// DashboardPath is the redirect target after a successful verification.
	DashboardPath string `mapstructure:"DASHBOARD_PATH"`

	// Env is the application environment (e.g. "development", "production"); selects the log encoder.
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Telemetry (optional). OTLP export is enabled when the endpoint is set.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for flow events (default phonelogin-events).
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group of the eventlog reader.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("VERIFY_TRANSPORT", TransportHTTP)
	v.SetDefault("VERIFY_API_URL", "http://localhost:5000")
	v.SetDefault("VERIFY_GRPC_ADDR", "localhost:5001")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("RESEND_COOLDOWN_SECONDS", 30)
	v.SetDefault("SESSION_STORE", StoreFile)
	v.SetDefault("SESSION_FILE", ".phonelogin/session.json")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_TTL", "168h") // 7d
	v.SetDefault("DASHBOARD_PATH", "/dashboard")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "phonelogin-events")
	v.SetDefault("KAFKA_GROUP_ID", "phonelogin-eventlog")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.VerifyTransport = strings.ToLower(strings.TrimSpace(cfg.VerifyTransport))
	switch cfg.VerifyTransport {
	case TransportHTTP:
		if cfg.VerifyAPIURL == "" {
			return nil, errors.New("config: VERIFY_API_URL must be set")
		}
	case TransportGRPC:
		if cfg.VerifyGRPCAddr == "" {
			return nil, errors.New("config: VERIFY_GRPC_ADDR must be set when VERIFY_TRANSPORT=grpc")
		}
	default:
		return nil, fmt.Errorf("config: VERIFY_TRANSPORT must be http or grpc, got %q", cfg.VerifyTransport)
	}

	if cfg.ResendCooldownSeconds == 0 {
		cfg.ResendCooldownSeconds = 30
	}
	if cfg.ResendCooldownSeconds < 1 || cfg.ResendCooldownSeconds > 600 {
		return nil, errors.New("config: RESEND_COOLDOWN_SECONDS must be between 1 and 600")
	}

	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	switch cfg.SessionStore {
	case StoreMemory:
	case StoreFile:
		if cfg.SessionFile == "" {
			return nil, errors.New("config: SESSION_FILE must be set when SESSION_STORE=file")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when SESSION_STORE=postgres")
		}
	case StoreRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("config: REDIS_ADDR must be set when SESSION_STORE=redis")
		}
	default:
		return nil, fmt.Errorf("config: SESSION_STORE must be memory, file, postgres or redis, got %q", cfg.SessionStore)
	}

	if cfg.DashboardPath == "" {
		cfg.DashboardPath = "/dashboard"
	}

	return &cfg, nil
}

// Timeout parses RequestTimeout as a time.Duration. Returns 15s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// SessionTTL parses SessionTTLRaw as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.SessionTTLRaw)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
