package config

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Separation service configuration
	Server ServerConfig `mapstructure:"server"`

	// Playback engine configuration
	Playback PlaybackConfig `mapstructure:"playback"`

	// Object store configuration for pushing finished results
	Store StoreConfig `mapstructure:"store"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the StemSplitter separation service endpoint
type ServerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PlaybackConfig holds the mixing engine tunables
type PlaybackConfig struct {
	SampleRate     int           `mapstructure:"sample_rate"`
	BufferSize     time.Duration `mapstructure:"buffer_size"`
	DriftInterval  time.Duration `mapstructure:"drift_interval"`
	DriftTolerance time.Duration `mapstructure:"drift_tolerance"`
	SeekTolerance  time.Duration `mapstructure:"seek_tolerance"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
}

// StoreConfig holds the optional S3-compatible result store
type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	// Set defaults
	viper.SetDefault("server.url", "http://localhost:5001")
	viper.SetDefault("server.timeout", "30s")
	viper.SetDefault("playback.sample_rate", 44100)
	viper.SetDefault("playback.buffer_size", "100ms")
	viper.SetDefault("playback.drift_interval", "2s")
	viper.SetDefault("playback.drift_tolerance", "200ms")
	viper.SetDefault("playback.seek_tolerance", "100ms")
	viper.SetDefault("playback.settle_delay", "50ms")
	viper.SetDefault("store.enabled", false)
	viper.SetDefault("store.bucket", "stemsplit")
	viper.SetDefault("store.use_ssl", false)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Read config file
	viper.SetConfigName("stemsplit")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.stemsplit")
	viper.AddConfigPath("/etc/stemsplit")

	// Allow environment variables
	viper.AutomaticEnv()
	viper.SetEnvPrefix("STEMSPLIT")

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		slog.Debug("No config file found, using defaults and environment variables")
	} else {
		slog.Info("Using config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return &ConfigError{Field: "server.url", Message: "separation server URL is required"}
	}
	if c.Playback.SampleRate <= 0 {
		return &ConfigError{Field: "playback.sample_rate", Message: "sample rate must be positive"}
	}
	if c.Playback.DriftInterval <= 0 {
		return &ConfigError{Field: "playback.drift_interval", Message: "drift interval must be positive"}
	}
	if c.Playback.DriftTolerance <= 0 {
		return &ConfigError{Field: "playback.drift_tolerance", Message: "drift tolerance must be positive"}
	}
	if c.Store.Enabled {
		if c.Store.Endpoint == "" {
			return &ConfigError{Field: "store.endpoint", Message: "store endpoint is required when the store is enabled"}
		}
		if c.Store.AccessKey == "" || c.Store.SecretKey == "" {
			return &ConfigError{Field: "store.access_key", Message: "store credentials are required when the store is enabled"}
		}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
