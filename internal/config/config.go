// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Ledger        LedgerConfig       `mapstructure:"ledger"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Coordinator   CoordinatorConfig  `mapstructure:"coordinator"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// LedgerConfig contains anchoring ledger connection configuration
type LedgerConfig struct {
	Type            string        `mapstructure:"type"` // ethereum, memory
	NodeURL         string        `mapstructure:"node_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	PrivateKey      string        `mapstructure:"private_key"`
	ContractAddress string        `mapstructure:"contract_address"`
	Confirmations   uint64        `mapstructure:"confirmations"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// CoordinatorConfig contains anchoring coordinator configuration
type CoordinatorConfig struct {
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	Workers         int           `mapstructure:"workers"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	SubmitTimeout   time.Duration `mapstructure:"submit_timeout"`
	ResubmitTimeout time.Duration `mapstructure:"resubmit_timeout"`
}

// NotificationConfig contains alerting configuration
type NotificationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	DefaultChannel string        `mapstructure:"default_channel"` // log, webhook
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("ANCHOR")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if nodeURL := os.Getenv("ANCHOR_NODE_URL"); nodeURL != "" {
		config.Ledger.NodeURL = nodeURL
	}
	if privateKey := os.Getenv("ANCHOR_PRIVATE_KEY"); privateKey != "" {
		config.Ledger.PrivateKey = privateKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "supplychain-anchor")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Ledger defaults
	viper.SetDefault("ledger.type", "ethereum")
	viper.SetDefault("ledger.node_url", "https://public-node.testnet.rsk.co")
	viper.SetDefault("ledger.chain_id", 31) // RSK Testnet
	viper.SetDefault("ledger.confirmations", 12)
	viper.SetDefault("ledger.request_timeout", "30s")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/anchor.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Coordinator defaults
	viper.SetDefault("coordinator.sweep_interval", "30s")
	viper.SetDefault("coordinator.batch_size", 100)
	viper.SetDefault("coordinator.workers", 4)
	viper.SetDefault("coordinator.max_retries", 5)
	viper.SetDefault("coordinator.backoff_base", "10s")
	viper.SetDefault("coordinator.backoff_max", "10m")
	viper.SetDefault("coordinator.submit_timeout", "30s")
	viper.SetDefault("coordinator.resubmit_timeout", "5m")

	// Notification defaults
	viper.SetDefault("notifications.enabled", true)
	viper.SetDefault("notifications.default_channel", "log")
	viper.SetDefault("notifications.webhook_timeout", "10s")
	viper.SetDefault("notifications.max_retries", 3)
	viper.SetDefault("notifications.retry_delay", "10s")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Ledger.Type {
	case "ethereum":
		if c.Ledger.NodeURL == "" {
			return fmt.Errorf("ledger node URL is required")
		}
		if c.Ledger.ChainID <= 0 {
			return fmt.Errorf("ledger chain ID must be positive")
		}
	case "memory":
		// Nothing to validate; the in-memory ledger takes no connection settings.
	default:
		return fmt.Errorf("unsupported ledger type: %s", c.Ledger.Type)
	}

	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Coordinator.SweepInterval <= 0 {
		return fmt.Errorf("coordinator sweep interval must be positive")
	}
	if c.Coordinator.Workers <= 0 {
		return fmt.Errorf("coordinator workers must be positive")
	}
	if c.Coordinator.MaxRetries < 0 {
		return fmt.Errorf("coordinator max retries cannot be negative")
	}
	if c.Coordinator.BackoffBase <= 0 {
		return fmt.Errorf("coordinator backoff base must be positive")
	}
	if c.Coordinator.BackoffMax < c.Coordinator.BackoffBase {
		return fmt.Errorf("coordinator backoff max must be at least backoff base")
	}
	if c.Notifications.Enabled && c.Notifications.DefaultChannel == "webhook" && c.Notifications.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required when the webhook channel is the default")
	}
	return nil
}
