// Package config reads process configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"portalquejas/internal/platform/kafka"
	pstrings "portalquejas/pkg/platform/strings"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Kafka    kafka.Config
	Audit    Audit
	Database Database
	Redis    RedisConfig
	History  History
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	Environment   string
	LogLevel      string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
}

// IsProduction reports whether verbose payload logging must stay off.
func (s Server) IsProduction() bool {
	return s.Environment == EnvProduction
}

// Audit configures the publishing facade and the history writer.
type Audit struct {
	Source         string
	ProgressEvery  int
	ExtraEntities  []string
	AsyncBuffer    int
	ReadSampleRate float64
	ConsumerEnable bool
}

type Database struct {
	URL    string
	Driver string
}

// RedisConfig is empty when no cache is configured.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type History struct {
	StatsTTL    time.Duration
	RequireAuth bool
}

// FromEnv builds a Config from environment variables so main stays lean.
// Unset variables take development defaults; malformed values are errors.
func FromEnv() (Config, error) {
	var (
		cfg Config
		err error
	)

	cfg.Server = Server{
		Addr:          getEnv("SERVER_ADDR", ":8080"),
		Environment:   getEnv("APP_ENV", EnvDevelopment),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     os.Getenv("JWT_ISSUER"),
		JWTAudience:   os.Getenv("JWT_AUDIENCE"),
	}

	cfg.Kafka = kafka.DefaultConfig()
	cfg.Kafka.Brokers = kafka.BrokerList(os.Getenv("KAFKA_BROKERS"))
	cfg.Kafka.Topic = getEnv("KAFKA_AUDIT_TOPIC", kafka.DefaultTopic)
	cfg.Kafka.GroupID = getEnv("KAFKA_CONSUMER_GROUP", kafka.DefaultGroupID)
	cfg.Kafka.ClientID = getEnv("KAFKA_CLIENT_ID", kafka.DefaultClientID)
	if cfg.Kafka.SendTimeout, err = durationEnv("KAFKA_SEND_TIMEOUT", kafka.DefaultSendTimeout); err != nil {
		return Config{}, err
	}
	partitions, err := intEnv("KAFKA_PARTITIONS", int(kafka.DefaultPartitions))
	if err != nil {
		return Config{}, err
	}
	cfg.Kafka.Partitions = int32(partitions) //nolint:gosec // small operator-supplied value

	cfg.Audit = Audit{
		Source:        getEnv("AUDIT_SOURCE", "portal-quejas-api"),
		ExtraEntities: pstrings.SplitListLower(os.Getenv("AUDIT_EXTRA_ENTITIES"), ","),
	}
	if cfg.Audit.ProgressEvery, err = intEnv("AUDIT_PROGRESS_EVERY", 10); err != nil {
		return Config{}, err
	}
	if cfg.Audit.AsyncBuffer, err = intEnv("AUDIT_ASYNC_BUFFER", 1024); err != nil {
		return Config{}, err
	}
	if cfg.Audit.ReadSampleRate, err = floatEnv("AUDIT_READ_SAMPLE_RATE", 1); err != nil {
		return Config{}, err
	}
	if cfg.Audit.ConsumerEnable, err = boolEnv("AUDIT_CONSUMER_ENABLED", true); err != nil {
		return Config{}, err
	}

	cfg.Database = Database{
		URL:    os.Getenv("DATABASE_URL"),
		Driver: os.Getenv("DATABASE_DRIVER"),
	}

	cfg.Redis = RedisConfig{
		URL:          os.Getenv("REDIS_URL"),
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	if cfg.History.StatsTTL, err = durationEnv("HISTORY_STATS_TTL", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.History.RequireAuth, err = boolEnv("HISTORY_REQUIRE_AUTH", false); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q: want a non-negative integer", key, raw)
	}
	return v, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, fmt.Errorf("invalid %s %q: want a number between 0 and 1", key, raw)
	}
	return v, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration", key, raw)
	}
	return v, nil
}
