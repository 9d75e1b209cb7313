package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // LEDGER_TIMEZONE must resolve on hosts without zoneinfo

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Ledger backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMySQL    = "mysql"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string        `env:"DAILYROLL_ADDR" envDefault:":8080"`
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"10s"`
}

// Log selects slog level and output format.
type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Ledger selects and tunes the ledger store.
type Ledger struct {
	Backend   string        `env:"LEDGER_BACKEND" envDefault:"memory"`
	Timezone  string        `env:"LEDGER_TIMEZONE" envDefault:"Local"`
	TxTimeout time.Duration `env:"LEDGER_TX_TIMEOUT" envDefault:"5s"`
}

// SQLiteConfig configures the file-backed store.
type SQLiteConfig struct {
	Path string `env:"SQLITE_PATH" envDefault:"dailyroll.db"`
}

// PostgresConfig configures the PostgreSQL pool.
type PostgresConfig struct {
	URL          string `env:"DATABASE_URL"`
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns int    `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
}

// MySQLConfig configures the MySQL pool. DSN uses the go-sql-driver format,
// e.g. user:pass@tcp(host:3306)/dailyroll.
type MySQLConfig struct {
	DSN          string `env:"MYSQL_DSN"`
	MaxOpenConns int    `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns int    `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"5"`
}

// RedisConfig configures the Redis client and ledger keys.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	KeyPrefix    string        `env:"LEDGER_REDIS_PREFIX" envDefault:"dailyroll"`
	TTL          time.Duration `env:"LEDGER_REDIS_TTL" envDefault:"48h"`
	MaxRetries   int           `env:"LEDGER_REDIS_MAX_RETRIES" envDefault:"16"`
}

// KafkaConfig configures check-in event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"attendance.events"`

	// QueueSize bounds events waiting for delivery.
	QueueSize int `env:"EVENT_QUEUE_SIZE" envDefault:"1024"`
}

// NATSConfig configures JetStream event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `env:"NATS_URL"`
	Stream        string `env:"NATS_STREAM" envDefault:"DAILYROLL"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"dailyroll"`
}

// EventsConfig tunes every broker-backed event sink.
type EventsConfig struct {
	PublishTimeout   time.Duration `env:"EVENT_PUBLISH_TIMEOUT" envDefault:"2s"`
	BreakerThreshold int           `env:"EVENT_BREAKER_THRESHOLD" envDefault:"3"`
	BreakerCooldown  time.Duration `env:"EVENT_BREAKER_COOLDOWN" envDefault:"15s"`
}

// Config is the full process configuration.
type Config struct {
	Server   Server
	Log      Log
	Ledger   Ledger
	SQLite   SQLiteConfig
	Postgres PostgresConfig
	MySQL    MySQLConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	NATS     NATSConfig
	Events   EventsConfig

	location *time.Location
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv parses configuration from environment variables only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements and resolves the time zone.
func (c *Config) Validate() error {
	c.Ledger.Backend = strings.ToLower(strings.TrimSpace(c.Ledger.Backend))
	switch c.Ledger.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return errors.New("DATABASE_URL is required for the postgres ledger backend")
		}
	case BackendMySQL:
		if c.MySQL.DSN == "" {
			return errors.New("MYSQL_DSN is required for the mysql ledger backend")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return errors.New("REDIS_URL is required for the redis ledger backend")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Ledger.Backend)
	}

	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return fmt.Errorf("invalid LEDGER_TIMEZONE %q: %w", c.Ledger.Timezone, err)
	}
	c.location = loc

	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
	return nil
}

// Location is the time zone that defines calendar days.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}
