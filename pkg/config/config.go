package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Store     StoreConfig     `mapstructure:"store"`
	Hub       HubConfig       `mapstructure:"hub"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	// MaxRetries follows go-redis: -1 disables retries, 0 means the library default of 3.
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// UpstreamConfig describes the exchange ticker stream.
type UpstreamConfig struct {
	URL            string        `mapstructure:"url"`
	Symbols        []string      `mapstructure:"symbols"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type StoreConfig struct {
	HistoryCapacity int           `mapstructure:"history_capacity"`
	HistoryTTL      time.Duration `mapstructure:"history_ttl"`
	// MissingPolicy decides what GetLatest returns for a symbol with no data:
	// "synthesize" (placeholder record) or "omit".
	MissingPolicy string `mapstructure:"missing_policy"`
	LockStripes   int    `mapstructure:"lock_stripes"`
}

type HubConfig struct {
	SendBuffer      int           `mapstructure:"send_buffer"`
	SnapshotTimeout time.Duration `mapstructure:"snapshot_timeout"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
	// TopicPoll spaces the startup checks that the topic has partitions.
	TopicPoll time.Duration `mapstructure:"topic_poll"`
	// Replay rebuilds the store from the journal at boot, for at most ReplayWindow.
	Replay        bool          `mapstructure:"replay"`
	ReplayWindow  time.Duration `mapstructure:"replay_window"`
	ReplayWorkers int           `mapstructure:"replay_workers"`
}

type SimulatorConfig struct {
	Port     string        `mapstructure:"port"`
	Interval time.Duration `mapstructure:"interval"`
	// DropAfter closes each stream after this many frames; 0 keeps it open.
	DropAfter  int     `mapstructure:"drop_after"`
	StaleRatio float64 `mapstructure:"stale_ratio"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment (if it exists)
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8000")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.probe_interval", 2*time.Second)
	v.SetDefault("redis.max_retries", -1)
	v.SetDefault("redis.dial_timeout", 500*time.Millisecond)
	v.SetDefault("redis.read_timeout", 500*time.Millisecond)
	v.SetDefault("redis.write_timeout", 500*time.Millisecond)

	v.SetDefault("upstream.url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("upstream.symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	v.SetDefault("upstream.reconnect_delay", 5*time.Second)

	v.SetDefault("store.history_capacity", 1000)
	v.SetDefault("store.history_ttl", 7*24*time.Hour)
	v.SetDefault("store.missing_policy", "synthesize")
	v.SetDefault("store.lock_stripes", 64)

	v.SetDefault("hub.send_buffer", 256)
	v.SetDefault("hub.snapshot_timeout", 2*time.Second)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "price_ticks")
	v.SetDefault("kafka.group_id", "price-replay")
	v.SetDefault("kafka.topic_poll", 200*time.Millisecond)
	v.SetDefault("kafka.replay", false)
	v.SetDefault("kafka.replay_window", 30*time.Second)
	v.SetDefault("kafka.replay_workers", 4)

	v.SetDefault("simulator.port", ":9443")
	v.SetDefault("simulator.interval", time.Second)
	v.SetDefault("simulator.drop_after", 0)
	v.SetDefault("simulator.stale_ratio", 0.05)

	// "redis.addr" -> "REDIS_ADDR"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "redis.addr", "redis.password", "redis.db", "redis.probe_interval",
		"redis.max_retries", "redis.dial_timeout", "redis.read_timeout", "redis.write_timeout")
	bindEnv(v, "upstream.url", "upstream.symbols", "upstream.reconnect_delay")
	bindEnv(v, "store.history_capacity", "store.history_ttl", "store.missing_policy", "store.lock_stripes")
	bindEnv(v, "hub.send_buffer", "hub.snapshot_timeout")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.topic_poll", "kafka.replay", "kafka.replay_window", "kafka.replay_workers")
	bindEnv(v, "simulator.port", "simulator.interval", "simulator.drop_after", "simulator.stale_ratio")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values LoadConfig cannot default away.
func (c *Config) Validate() error {
	if len(c.Upstream.Symbols) == 0 {
		return fmt.Errorf("upstream symbols cannot be empty")
	}
	for i, s := range c.Upstream.Symbols {
		c.Upstream.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if c.Upstream.ReconnectDelay <= 0 {
		return fmt.Errorf("upstream reconnect delay must be positive, got %s", c.Upstream.ReconnectDelay)
	}
	if c.Store.HistoryCapacity <= 0 {
		return fmt.Errorf("store history capacity must be positive, got %d", c.Store.HistoryCapacity)
	}
	switch c.Store.MissingPolicy {
	case "synthesize", "omit":
	default:
		return fmt.Errorf("unknown store missing policy %q", c.Store.MissingPolicy)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
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
