package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ModeLegacy   = "legacy"
	ModeHardened = "hardened"

	BackendNone     = "none"
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
)

type Config struct {
	ServerPort int    `env:"SERVER_PORT" envDefault:"3000"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`

	Database DatabaseConfig
	Account  AccountConfig
	Events   EventsConfig
}

type DatabaseConfig struct {
	Driver       string `env:"DB_DRIVER" envDefault:"postgres"`
	Host         string `env:"DB_HOST" envDefault:"localhost"`
	Port         int    `env:"DB_PORT" envDefault:"5432"`
	User         string `env:"DB_USER" envDefault:"ipulse"`
	Password     string `env:"DB_PASSWORD" envDefault:"password"`
	DBName       string `env:"DB_NAME" envDefault:"ipulse"`
	UseSSL       bool   `env:"DB_USE_SSL" envDefault:"false"`
	Path         string `env:"DB_PATH" envDefault:"data/ipulse.db"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	AutoMigrate  bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`
}

// AccountConfig selects how credentials are stored and recovered.
type AccountConfig struct {
	Mode             string        `env:"ACCOUNT_MODE" envDefault:"legacy"`
	ResetTokenSecret string        `env:"RESET_TOKEN_SECRET"`
	ResetTokenTTL    time.Duration `env:"RESET_TOKEN_TTL" envDefault:"15m"`
}

type EventsConfig struct {
	Backend       string `env:"MQ_BACKEND" envDefault:"none"`
	ChannelPrefix string `env:"EVENTS_CHANNEL_PREFIX" envDefault:"ipulse."`
	RabbitMQ      RabbitMQConfig
	PubSub        PubSubConfig
}

type RabbitMQConfig struct {
	URL          string `env:"RABBITMQ_URL"`
	QueueDurable bool   `env:"RABBITMQ_QUEUE_DURABLE" envDefault:"true"`
}

type PubSubConfig struct {
	ProjectID       string `env:"PUBSUB_PROJECT_ID"`
	CredentialsFile string `env:"PUBSUB_CREDENTIALS_FILE"`
}

// LoadConfig reads the configuration from the environment. A .env file in
// the working directory is honoured when ENV=dev.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Account.Mode = strings.ToLower(strings.TrimSpace(cfg.Account.Mode))
	cfg.Events.Backend = strings.ToLower(strings.TrimSpace(cfg.Events.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	switch c.Account.Mode {
	case ModeLegacy:
	case ModeHardened:
		if strings.TrimSpace(c.Account.ResetTokenSecret) == "" {
			return errors.New("RESET_TOKEN_SECRET is required in hardened mode")
		}
		if c.Account.ResetTokenTTL <= 0 {
			return errors.New("RESET_TOKEN_TTL must be positive")
		}
	default:
		return fmt.Errorf("unsupported ACCOUNT_MODE %q", c.Account.Mode)
	}

	switch c.Events.Backend {
	case BackendNone:
	case BackendRabbitMQ:
		if strings.TrimSpace(c.Events.RabbitMQ.URL) == "" {
			return errors.New("RABBITMQ_URL is required for the rabbitmq backend")
		}
	case BackendPubSub:
		if strings.TrimSpace(c.Events.PubSub.ProjectID) == "" {
			return errors.New("PUBSUB_PROJECT_ID is required for the pubsub backend")
		}
	default:
		return fmt.Errorf("unsupported MQ_BACKEND %q", c.Events.Backend)
	}

	return nil
}
