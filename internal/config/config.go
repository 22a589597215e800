package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the dispatch service configuration. Dispatch knobs are
// threaded explicitly into constructors, never read from globals.
type Config struct {
	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
		SSLMode  string
		MaxConns int
		MaxIdle  int
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	MQTT struct {
		Broker   string
		ClientID string
		Username string
		Password string
		QoS      byte
	}

	Notifier struct {
		Backend     string // "mqtt" or "webhook"
		TopicPrefix string // MQTT topic prefix, e.g. "campus/guards/"
		WebhookURL  string // push-gateway endpoint for the webhook backend
		TimeoutSec  int    // webhook request timeout (seconds)
	}

	Dispatch struct {
		MaxGuards           int // candidate guards for the initial alert batch, default 3
		ResponseDeadlineSec int // alert response deadline (seconds), default 120
		SweepIntervalSec    int // expiry sweep interval (seconds), default 15
		SweepBatchSize      int // overdue alerts handled per sweep, default 50

		SignalStream   string // inbound signal stream, e.g. "dispatch:signals"
		ResponseStream string // guard response stream, e.g. "dispatch:responses"
		AuditStream    string // append-only audit stream, e.g. "dispatch:audit"
		ConsumerGroup  string
		ConsumerName   string // unique per instance
	}

	Log struct {
		Level  string
		Format string
	}
}

// GetDSN builds the postgres connection string.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.Database, c.Database.SSLMode)
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "campusrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "campus-dispatch")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Notifier.Backend = getEnv("NOTIFIER_BACKEND", "mqtt")
	cfg.Notifier.TopicPrefix = getEnv("NOTIFIER_TOPIC_PREFIX", "campus/guards/")
	cfg.Notifier.WebhookURL = getEnv("NOTIFIER_WEBHOOK_URL", "")
	cfg.Notifier.TimeoutSec = getEnvInt("NOTIFIER_TIMEOUT", 10)

	cfg.Dispatch.MaxGuards = getEnvInt("DISPATCH_MAX_GUARDS", 3)
	cfg.Dispatch.ResponseDeadlineSec = getEnvInt("DISPATCH_RESPONSE_DEADLINE", 120)
	cfg.Dispatch.SweepIntervalSec = getEnvInt("DISPATCH_SWEEP_INTERVAL", 15)
	cfg.Dispatch.SweepBatchSize = getEnvInt("DISPATCH_SWEEP_BATCH_SIZE", 50)

	cfg.Dispatch.SignalStream = getEnv("DISPATCH_SIGNAL_STREAM", "dispatch:signals")
	cfg.Dispatch.ResponseStream = getEnv("DISPATCH_RESPONSE_STREAM", "dispatch:responses")
	cfg.Dispatch.AuditStream = getEnv("DISPATCH_AUDIT_STREAM", "dispatch:audit")
	cfg.Dispatch.ConsumerGroup = getEnv("DISPATCH_CONSUMER_GROUP", "campus-dispatch")
	cfg.Dispatch.ConsumerName = getEnv("DISPATCH_CONSUMER_NAME", defaultConsumerName())

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if cfg.Notifier.Backend != "mqtt" && cfg.Notifier.Backend != "webhook" {
		return nil, fmt.Errorf("invalid NOTIFIER_BACKEND: %s (must be mqtt or webhook)", cfg.Notifier.Backend)
	}
	if cfg.Notifier.Backend == "webhook" && cfg.Notifier.WebhookURL == "" {
		return nil, fmt.Errorf("NOTIFIER_WEBHOOK_URL is required when NOTIFIER_BACKEND=webhook")
	}

	return cfg, nil
}

func defaultConsumerName() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "campus-dispatch-1"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
