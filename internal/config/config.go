package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Logger   LoggerConfig
	Store    StoreConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

type ServerConfig struct {
	AppEnv             string
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type StoreConfig struct {
	Driver string
}

type PostgresConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
	MaxOpenConns      int
	MaxIdleConns      int
}

type RedisConfig struct {
	// Addr empty disables the totals cache.
	Addr      string
	Password  string
	DB        int
	TotalsTTL time.Duration
}

type KafkaConfig struct {
	// Brokers empty disables the outbox publisher.
	Brokers      []string
	Topic        string
	PollInterval time.Duration
	BatchSize    int
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			AppEnv:             getEnv("APP_ENV", "development"),
			HTTPPort:           getEnv("HTTP_PORT", "8080"),
			RequestTimeout:     getEnvDuration("HTTP_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout:    getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxRequestBodySize: int64(getEnvInt("HTTP_MAX_BODY_SIZE", 1<<20)),
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", "info"),
			Encoding:          getEnv("LOGGER_ENCODING", "console"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		Store: StoreConfig{
			Driver: getEnv("STORE_DRIVER", StoreDriverPostgres),
		},
		Postgres: PostgresConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "sales"),
			MigrationsDirPath: getEnv("DB_MIGRATIONS_PATH", "internal/repository/migrations"),
			MaxOpenConns:      getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:      getEnvInt("DB_MAX_IDLE_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			TotalsTTL: getEnvDuration("REDIS_TOTALS_TTL", 15*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvSlice("KAFKA_BROKERS", nil),
			Topic:        getEnv("KAFKA_TOPIC", "sales-orders"),
			PollInterval: getEnvDuration("KAFKA_POLL_INTERVAL", 2*time.Second),
			BatchSize:    getEnvInt("KAFKA_BATCH_SIZE", 100),
		},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
