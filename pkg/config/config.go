package config

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	SourceStatic = "static"
	SourceRedis  = "redis"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Session   SessionConfig   `mapstructure:"session"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

type AppConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

// Addr is the host:port the gateway binds to.
func (a AppConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

type FeedConfig struct {
	Symbol   string        `mapstructure:"symbol"`
	Price    float64       `mapstructure:"price"`
	Quantity int64         `mapstructure:"quantity"`
	Interval time.Duration `mapstructure:"interval"`
	Source   string        `mapstructure:"source"` // "static" or "redis"
}

type SessionConfig struct {
	PingPeriod     time.Duration `mapstructure:"ping_period"` // 0 disables keepalive pings
	WriteWait      time.Duration `mapstructure:"write_wait"`  // 0 means no write deadline
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	Partitions int      `mapstructure:"partitions"`
}

type ProcessorConfig struct {
	NumWorkers  int           `mapstructure:"num_workers"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

type GeneratorConfig struct {
	Spread float64 `mapstructure:"spread"`
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// .env populates the real process environment so AutomaticEnv sees it
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "feed.interval" -> "FEED_INTERVAL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Flat env vars only reach nested keys once bound explicitly
	bindEnv(v, "app.host", "app.port", "app.env")
	bindEnv(v, "feed.symbol", "feed.price", "feed.quantity", "feed.interval", "feed.source")
	bindEnv(v, "session.ping_period", "session.write_wait", "session.max_message_size", "session.status_interval")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.partitions")
	bindEnv(v, "processor.num_workers", "processor.snapshot_ttl")
	bindEnv(v, "generator.spread")
	bindEnv(v, "logger.level", "logger.encoding")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.host", "localhost")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.env", "local")

	v.SetDefault("feed.symbol", "AAPL")
	v.SetDefault("feed.price", 150.0)
	v.SetDefault("feed.quantity", 100)
	v.SetDefault("feed.interval", time.Second)
	v.SetDefault("feed.source", SourceStatic)

	v.SetDefault("session.ping_period", 30*time.Second)
	v.SetDefault("session.write_wait", 0)
	v.SetDefault("session.max_message_size", 512*1024)
	v.SetDefault("session.status_interval", time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
	v.SetDefault("kafka.group_id", "tick-processor-group")
	v.SetDefault("kafka.partitions", 4)

	v.SetDefault("processor.num_workers", 4)
	v.SetDefault("processor.snapshot_ttl", time.Hour)

	v.SetDefault("generator.spread", 0.0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")
}

// Validate rejects configurations no component can run with.
func (c *Config) Validate() error {
	switch {
	case c.App.Port < 0 || c.App.Port > 65535:
		return fmt.Errorf("app port out of range: %d", c.App.Port)
	case c.Feed.Symbol == "":
		return fmt.Errorf("feed symbol cannot be empty")
	case c.Feed.Interval <= 0:
		return fmt.Errorf("feed interval must be positive, got %s", c.Feed.Interval)
	case c.Feed.Price < 0:
		return fmt.Errorf("feed price cannot be negative")
	case c.Feed.Quantity < 0:
		return fmt.Errorf("feed quantity cannot be negative")
	case c.Feed.Source != SourceStatic && c.Feed.Source != SourceRedis:
		return fmt.Errorf("unknown feed source %q", c.Feed.Source)
	case c.Session.MaxMessageSize <= 0:
		return fmt.Errorf("session max message size must be positive")
	case len(c.Kafka.Brokers) == 0:
		return fmt.Errorf("kafka brokers cannot be empty")
	case c.Processor.NumWorkers < 1:
		return fmt.Errorf("processor needs at least one worker")
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
