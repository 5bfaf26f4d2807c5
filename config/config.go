package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ErrorLogBackendPostgres = "postgres"
	ErrorLogBackendDynamo   = "dynamodb"
)

type Config struct {
	Env      string
	LogLevel string

	Postgres     PostgresConfig
	Kafka        KafkaConfig
	Valkey       ValkeyConfig
	Dynamo       DynamoConfig
	Moderation   ModerationConfig
	SpamDetector SpamDetectorConfig
	Breaker      BreakerConfig
	Server       ServerConfig
	Reconciler   ReconcilerConfig

	ErrorLogBackend string
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN builds a postgres:// connection string.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.Name,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

type KafkaConfig struct {
	Broker          string
	GroupID         string
	Topic           string
	DeadLetterTopic string
}

type ValkeyConfig struct {
	Address  string
	Password string
	TLS      bool
	CacheTTL time.Duration
}

func (v ValkeyConfig) Enabled() bool { return v.Address != "" }

type DynamoConfig struct {
	Region     string
	ErrorTable string
}

type ModerationConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// SpamDetectorConfig describes the spam classifier endpoint. A nil URL means the
// feature is switched off, which is different from a configured endpoint that
// cannot be reached.
type SpamDetectorConfig struct {
	URL     *url.URL
	APIKey  string
	Timeout time.Duration
}

func (s SpamDetectorConfig) Configured() bool { return s.URL != nil }

type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

type ServerConfig struct {
	Port        string
	MetricsPort string
	AdminToken  string
}

type ReconcilerConfig struct {
	Interval  time.Duration
	MinAge    time.Duration
	BatchSize int
}

// Load reads the configuration from the environment. Call LoadEnv first to pick
// up .env files.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("APP_ENV", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Postgres: PostgresConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "reviewguard"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "reviewguard"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},

		Kafka: KafkaConfig{
			Broker:          getEnv("KAFKA_BROKER", "localhost:29092"),
			GroupID:         getEnv("KAFKA_CONSUMER_GROUP_ID", "reviewguard-moderation"),
			Topic:           getEnv("KAFKA_MODERATION_TOPIC", "review-moderation"),
			DeadLetterTopic: getEnv("KAFKA_DEAD_LETTER_TOPIC", "review-moderation-dlq"),
		},

		Valkey: ValkeyConfig{
			Address:  getEnv("VALKEY_INIT_ADDRESS", ""),
			Password: getEnv("VALKEY_PASSWORD", ""),
			TLS:      getEnv("VALKEY_TLS", "false") == "true",
			CacheTTL: getDurationEnv("VALKEY_VERDICT_TTL", time.Hour),
		},

		Dynamo: DynamoConfig{
			Region:     getEnv("AWS_REGION", "us-east-1"),
			ErrorTable: getEnv("DYNAMODB_ERROR_TABLE", "AIServiceErrors"),
		},

		Moderation: ModerationConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("MODERATION_BASE_URL", ""),
			Model:   getEnv("MODERATION_MODEL", "omni-moderation-latest"),
			Timeout: getDurationEnv("MODERATION_TIMEOUT", 10*time.Second),
		},

		SpamDetector: SpamDetectorConfig{
			APIKey:  getEnv("SPAM_API_KEY", ""),
			Timeout: getDurationEnv("SPAM_TIMEOUT", 10*time.Second),
		},

		Breaker: BreakerConfig{
			MaxRequests:         uint32(getIntEnv("BREAKER_MAX_REQUESTS", 3)),
			Interval:            getDurationEnv("BREAKER_INTERVAL", 60*time.Second),
			Timeout:             getDurationEnv("BREAKER_TIMEOUT", 30*time.Second),
			ConsecutiveFailures: uint32(getIntEnv("BREAKER_CONSECUTIVE_FAILURES", 5)),
		},

		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			MetricsPort: getEnv("METRICS_PORT", "9090"),
			AdminToken:  getEnv("ADMIN_TOKEN", ""),
		},

		Reconciler: ReconcilerConfig{
			Interval:  getDurationEnv("RECONCILE_INTERVAL", 5*time.Minute),
			MinAge:    getDurationEnv("RECONCILE_MIN_AGE", 10*time.Minute),
			BatchSize: getIntEnv("RECONCILE_BATCH_SIZE", 100),
		},

		ErrorLogBackend: strings.ToLower(getEnv("ERROR_LOG_BACKEND", ErrorLogBackendPostgres)),
	}

	if raw := strings.TrimSpace(os.Getenv("SPAM_DETECTOR_URL")); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid SPAM_DETECTOR_URL %q", raw)
		}
		cfg.SpamDetector.URL = u
	}

	switch cfg.ErrorLogBackend {
	case ErrorLogBackendPostgres, ErrorLogBackendDynamo:
	default:
		return nil, fmt.Errorf("unknown ERROR_LOG_BACKEND %q", cfg.ErrorLogBackend)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
