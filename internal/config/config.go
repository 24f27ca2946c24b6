package config

import (
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var prefixPattern = regexp.MustCompile(`^[A-Z]+$`)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

type Config struct {
	Port                     string
	DatabaseURL              string
	StoreBackend             string
	CounterBackend           string
	RedisAddr                string
	RedisCounterKey          string
	AMQPURL                  string
	AMQPExchange             string
	QueueSecret              string
	QueuePrefix              string
	PublicBaseURL            string
	AdminPasswordHash        string
	SessionTTL               time.Duration
	RateLimitPerMinute       int
	RateLimitBurst           int
	TicketRateLimitPerMinute int
	TicketRateLimitBurst     int
	TrustProxy               bool
	OrderRetention           time.Duration
	PurgeInterval            time.Duration
	OutboxPollInterval       time.Duration
	OutboxBatchSize          int
	OutboxLease              time.Duration
	OutboxRetention          time.Duration
	LogLevel                 string
	LogJSON                  bool
	LogFile                  string
	LogFileMaxSizeMB         int
	LogFileMaxBackups        int
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	databaseURL := os.Getenv("DB_DSN")
	storeBackend := readString("STORE_BACKEND", BackendPostgres)
	if databaseURL == "" && os.Getenv("STORE_BACKEND") == "" {
		storeBackend = BackendMemory
	}

	return Config{
		Port:                     port,
		DatabaseURL:              databaseURL,
		StoreBackend:             storeBackend,
		CounterBackend:           readString("COUNTER_BACKEND", storeBackend),
		RedisAddr:                readString("REDIS_ADDR", "localhost:6379"),
		RedisCounterKey:          os.Getenv("REDIS_COUNTER_KEY"),
		AMQPURL:                  os.Getenv("AMQP_URL"),
		AMQPExchange:             os.Getenv("AMQP_EXCHANGE"),
		QueueSecret:              os.Getenv("QUEUE_SECRET"),
		QueuePrefix:              readString("QUEUE_PREFIX", "Q"),
		PublicBaseURL:            os.Getenv("PUBLIC_BASE_URL"),
		AdminPasswordHash:        os.Getenv("ADMIN_PASSWORD_HASH"),
		SessionTTL:               readDurationSeconds("SESSION_TTL_SECONDS", 7*24*60*60),
		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		TicketRateLimitPerMinute: readInt("TICKET_RATE_LIMIT_PER_MIN", 60),
		TicketRateLimitBurst:     readInt("TICKET_RATE_LIMIT_BURST", 20),
		TrustProxy:               readBool("TRUST_PROXY", false),
		OrderRetention:           readDurationHours("ORDER_RETENTION_HOURS", 0),
		PurgeInterval:            readDurationSeconds("PURGE_INTERVAL_SECONDS", 600),
		OutboxPollInterval:       readDurationSeconds("OUTBOX_POLL_SECONDS", 1),
		OutboxBatchSize:          readInt("OUTBOX_BATCH_SIZE", 100),
		OutboxLease:              readDurationSeconds("OUTBOX_LEASE_SECONDS", 30),
		OutboxRetention:          readDurationHours("OUTBOX_RETENTION_HOURS", 24),
		LogLevel:                 readString("LOG_LEVEL", "info"),
		LogJSON:                  readBool("LOG_JSON", true),
		LogFile:                  os.Getenv("LOG_FILE"),
		LogFileMaxSizeMB:         readInt("LOG_FILE_MAX_SIZE_MB", 100),
		LogFileMaxBackups:        readInt("LOG_FILE_MAX_BACKUPS", 5),
	}
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		return errors.New("STORE_BACKEND must be postgres or memory")
	}
	switch c.CounterBackend {
	case BackendPostgres, BackendMemory, BackendRedis:
	default:
		return errors.New("COUNTER_BACKEND must be postgres, redis or memory")
	}
	if (c.StoreBackend == BackendPostgres || c.CounterBackend == BackendPostgres) && c.DatabaseURL == "" {
		return errors.New("DB_DSN is required for the postgres backend")
	}
	if c.CounterBackend == BackendPostgres && c.StoreBackend != BackendPostgres {
		return errors.New("COUNTER_BACKEND=postgres requires STORE_BACKEND=postgres")
	}
	if c.CounterBackend == BackendMemory && c.StoreBackend != BackendMemory {
		return errors.New("COUNTER_BACKEND=memory requires STORE_BACKEND=memory")
	}
	if !prefixPattern.MatchString(c.QueuePrefix) {
		return errors.New("QUEUE_PREFIX must be uppercase letters")
	}
	return nil
}

func readString(key, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return raw
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationHours(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Hour
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
