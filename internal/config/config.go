package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Report  ReportConfig  `mapstructure:"report"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Logger  LoggerConfig  `mapstructure:"logger"`
}

// BackendConfig holds invoice service connection settings
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheConfig holds the local cache settings
type CacheConfig struct {
	Path    string `mapstructure:"path"`
	Enabled bool   `mapstructure:"enabled"`
}

// ReportConfig holds report export settings
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// QueueConfig holds review queue settings
type QueueConfig struct {
	Divisions []string `mapstructure:"divisions"`
	PerPage   int      `mapstructure:"per_page"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables. A
// missing config file is fine; defaults plus environment cover the
// common case of pointing the client at one backend.
func Load(configPath string) (*Config, error) {
	// .env is developer convenience, never required.
	_ = gotenv.Load()

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("backend.base_url", "http://localhost:5000")
	viper.SetDefault("backend.timeout", 30*time.Second)

	viper.SetDefault("cache.path", "data/invoice-cache.db")
	viper.SetDefault("cache.enabled", true)

	viper.SetDefault("report.output_dir", "reports")

	viper.SetDefault("queue.divisions", []string{"engineering", "ultra_filtration", "water"})
	viper.SetDefault("queue.per_page", 20)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stderr")
	viper.SetDefault("logger.format", "console")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	viper.BindEnv("backend.base_url", "INVOICE_BACKEND_URL")
	viper.BindEnv("cache.path", "INVOICE_CACHE_PATH")
	viper.BindEnv("report.output_dir", "INVOICE_REPORT_DIR")
	viper.BindEnv("logger.level", "INVOICE_LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required when the cache is enabled")
	}
	if len(c.Queue.Divisions) == 0 {
		return fmt.Errorf("queue.divisions must not be empty")
	}
	return nil
}
