package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	HTTPPort    int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	MaxConcurrent   int           `envconfig:"MAX_CONCURRENT" default:"3"`
	RetryAttempts   int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	ProgressTick    time.Duration `envconfig:"PROGRESS_TICK" default:"100ms"`
	TransferTimeout time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"30m"`

	DownloadDir string `envconfig:"DOWNLOAD_DIR" default:"./downloads"`
	StateFile   string `envconfig:"STATE_FILE" default:"./state.json"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent downloads must be at least 1: %d", c.MaxConcurrent)
	}

	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts cannot be negative: %d", c.RetryAttempts)
	}

	if c.ProgressTick <= 0 {
		return fmt.Errorf("progress tick must be positive: %s", c.ProgressTick)
	}

	if c.DownloadDir == "" {
		return fmt.Errorf("download directory cannot be empty")
	}
	if c.StateFile == "" {
		return fmt.Errorf("state file cannot be empty")
	}

	return nil
}
