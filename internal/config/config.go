package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Lock      LockConfig      `yaml:"lock"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Consumer  ConsumerConfig  `yaml:"consumer"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	MetricsPort     int           `yaml:"metrics_port"` // workers only; 0 disables
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	GroupID         string   `yaml:"group_id"`
	EventsTopic     string   `yaml:"events_topic"`
	CommandsTopic   string   `yaml:"commands_topic"`
	DeadLetterTopic string   `yaml:"dead_letter_topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// LedgerConfig overrides fields of the selected profile. Zero values keep
// the profile's setting.
type LedgerConfig struct {
	Profile           string        `yaml:"profile"`
	Currency          string        `yaml:"currency"`
	SystemAccountID   string        `yaml:"system_account_id"`
	PlatformAccountID string        `yaml:"platform_account_id"`
	SystemFloat       string        `yaml:"system_float"`
	HoldTTL           time.Duration `yaml:"hold_ttl"`
	Adjustments       string        `yaml:"adjustments"`
}

type LockConfig struct {
	Backend string        `yaml:"backend"` // redis | memory (single process only)
	Timeout time.Duration `yaml:"timeout"`
	TTL     time.Duration `yaml:"ttl"`
}

type OutboxConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type ConsumerConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

type SweepConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Path is the config file named by LEDGER_CONFIG, or the repository default.
func Path() string {
	if p := os.Getenv("LEDGER_CONFIG"); p != "" {
		return p
	}
	return "internal/config/config.yaml"
}

// Load reads an optional .env, then the yaml file, then environment
// overrides, and fills every unset value with its default.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		c.Postgres.DSN = dsn
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.DSN = c.Postgres.DSN + " password=" + pw
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	if p := os.Getenv("LEDGER_PROFILE"); p != "" {
		c.Ledger.Profile = p
	}
}

func (c *Config) applyDefaults() {
	setInt(&c.Server.Port, 8080)
	setDur(&c.Server.ShutdownTimeout, 10*time.Second)
	setInt(&c.Postgres.MaxOpenConns, 20)
	setInt(&c.Postgres.MaxIdleConns, 5)
	setStr(&c.Redis.Addr, "localhost:6379")
	setDur(&c.Redis.CacheTTL, time.Minute)
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	setStr(&c.Kafka.GroupID, "ledger-engine")
	setStr(&c.Kafka.CommandsTopic, "ledger.commands")
	setStr(&c.Kafka.DeadLetterTopic, c.Kafka.CommandsTopic+".dlq")
	setStr(&c.Ledger.Profile, "wallet")
	setStr(&c.Lock.Backend, "redis")
	setDur(&c.Lock.Timeout, 5*time.Second)
	setDur(&c.Lock.TTL, 30*time.Second)
	setDur(&c.Outbox.Interval, time.Second)
	setInt(&c.Outbox.BatchSize, 100)
	setInt(&c.Consumer.MaxRetries, 5)
	setDur(&c.Consumer.Backoff, 200*time.Millisecond)
	setDur(&c.Consumer.MaxBackoff, 10*time.Second)
	setDur(&c.Sweep.Interval, 30*time.Second)
	setInt(&c.Sweep.BatchSize, 100)
	setDur(&c.Sweep.StaleAfter, time.Minute)
	setStr(&c.Log.Level, "info")
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Lock.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("lock.backend must be memory or redis, got %q", c.Lock.Backend)
	}
	switch c.Ledger.Adjustments {
	case "", "routed", "direct":
	default:
		return fmt.Errorf("ledger.adjustments must be routed or direct, got %q", c.Ledger.Adjustments)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

func setStr(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDur(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}
