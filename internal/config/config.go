package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/afroash/dht11-httpd/internal/dht"
)

// SensorConfig contains sensor-specific settings
type SensorConfig struct {
	ID       string `yaml:"id"`
	Location string `yaml:"location"`
	Type     string `yaml:"type"`
	// Driver is one of periph, rpio, cdev or sim.
	Driver string `yaml:"driver"`
	// Pin is the BCM number for periph and rpio, the line offset for cdev.
	Pin int `yaml:"pin"`
	// Chip is the gpiochip for the cdev driver.
	Chip   string     `yaml:"chip"`
	Timing dht.Timing `yaml:"timing"`
}

// UplinkConfig contains connection settings for an optional collector that
// can request readings over a websocket
type UplinkConfig struct {
	Enabled              bool          `yaml:"enabled"`
	URL                  string        `yaml:"url"`
	AuthToken            string        `yaml:"auth_token"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	// MaxRetries is the number of consecutive failed dials before giving up.
	// Zero takes the default; a negative value retries forever.
	MaxRetries   int           `yaml:"max_retries"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
}

// JournalConfig contains settings for the transaction journal
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DBPath        string        `yaml:"db_path"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// LoadEnvFile loads KEY=value pairs from path into the environment without
// replacing variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
