package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	Kafka     KafkaConfig
	Outbox    OutboxRelayConfig
	Store     StoreConfig
	Invoice   InvoiceConfig
	Integrity IntegrityConfig
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addresses     []string `mapstructure:"addresses"`
	Password      string   `mapstructure:"password"`
	DB            int      `mapstructure:"db"`
	PoolSize      int      `mapstructure:"pool_size"`
	ClusterMode   bool     `mapstructure:"cluster_mode"`
	ChannelPrefix string   `mapstructure:"channel_prefix"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	ClientID   string   `mapstructure:"client_id"`
	EventTopic string   `mapstructure:"event_topic"`
	DLQTopic   string   `mapstructure:"dlq_topic"`
}

type OutboxRelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// StoreConfig bounds every unit of work.
type StoreConfig struct {
	Driver      string        `mapstructure:"driver"` // postgres or memory
	TxTimeout   time.Duration `mapstructure:"tx_timeout"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

type InvoiceConfig struct {
	PadWidth     int           `mapstructure:"pad_width"`
	Separator    string        `mapstructure:"separator"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	AllocTimeout time.Duration `mapstructure:"alloc_timeout"`
}

type IntegrityConfig struct {
	SoftDeleteIsDelete bool `mapstructure:"soft_delete_is_delete"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.channel_prefix", "billforge")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.issuer", "billforge")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("kafka.client_id", "billforge-outbox-relay")
	v.SetDefault("kafka.event_topic", "billforge.domain.events")
	v.SetDefault("kafka.dlq_topic", "billforge.domain.events.dlq")
	v.SetDefault("outbox.poll_interval", "5s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.tx_timeout", "5s")
	v.SetDefault("store.lock_timeout", "2s")
	v.SetDefault("invoice.pad_width", 6)
	v.SetDefault("invoice.separator", "-")
	v.SetDefault("invoice.max_attempts", 8)
	v.SetDefault("invoice.base_backoff", "5ms")
	v.SetDefault("invoice.max_backoff", "250ms")
	v.SetDefault("invoice.alloc_timeout", "5s")
	v.SetDefault("integrity.soft_delete_is_delete", true)
}

func Load() (*Config, error) {
	// A missing .env file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/billforge/")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Invoice.PadWidth < 0 || c.Invoice.PadWidth > 18 {
		return fmt.Errorf("invoice.pad_width must be between 0 and 18, got %d", c.Invoice.PadWidth)
	}
	if c.Invoice.MaxAttempts < 1 {
		return fmt.Errorf("invoice.max_attempts must be at least 1, got %d", c.Invoice.MaxAttempts)
	}
	if c.Store.TxTimeout <= 0 {
		return fmt.Errorf("store.tx_timeout must be positive")
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("store.driver must be postgres or memory, got %q", c.Store.Driver)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
