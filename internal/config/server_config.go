package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afroash/dht11-httpd/internal/sensor"
)

// AppConfig holds the configuration shared by both binaries
type AppConfig struct {
	Sensor  SensorConfig   `yaml:"sensor"`
	Server  ServerSettings `yaml:"server"`
	Uplink  UplinkConfig   `yaml:"uplink"`
	Journal JournalConfig  `yaml:"journal"`
	Logging LoggingConfig  `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// AuthToken, when set, is required as a bearer token on /ws.
	AuthToken    string        `yaml:"auth_token"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RequestTimeout bounds one sensor transaction including the wait for
	// the line.
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// LoadAppConfig loads configuration from a YAML file
func LoadAppConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var config AppConfig
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (ac *AppConfig) ApplyDefaults() {
	if ac.Sensor.ID == "" {
		if host, err := os.Hostname(); err == nil {
			ac.Sensor.ID = host
		} else {
			ac.Sensor.ID = "dht11"
		}
	}
	if ac.Sensor.Type == "" {
		ac.Sensor.Type = "DHT11"
	}
	if ac.Sensor.Driver == "" {
		ac.Sensor.Driver = sensor.DriverPeriph
	}
	if ac.Sensor.Pin == 0 {
		ac.Sensor.Pin = 4
	}
	if ac.Sensor.Chip == "" {
		ac.Sensor.Chip = "gpiochip0"
	}
	ac.Sensor.Timing = ac.Sensor.Timing.WithDefaults()

	if ac.Server.Port == 0 {
		ac.Server.Port = 8080
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "0.0.0.0"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 10 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}
	if ac.Server.RequestTimeout == 0 {
		ac.Server.RequestTimeout = 100 * time.Millisecond
	}
	if ac.Server.ShutdownTimeout == 0 {
		ac.Server.ShutdownTimeout = 10 * time.Second
	}

	if ac.Uplink.ConnectTimeout == 0 {
		ac.Uplink.ConnectTimeout = 10 * time.Second
	}
	if ac.Uplink.ReconnectInterval == 0 {
		ac.Uplink.ReconnectInterval = 1 * time.Second
	}
	if ac.Uplink.MaxReconnectInterval == 0 {
		ac.Uplink.MaxReconnectInterval = 5 * time.Minute
	}
	if ac.Uplink.MaxRetries == 0 {
		ac.Uplink.MaxRetries = 20
	}
	if ac.Uplink.PingInterval == 0 {
		ac.Uplink.PingInterval = 30 * time.Second
	}
	if ac.Uplink.PongTimeout == 0 {
		ac.Uplink.PongTimeout = 10 * time.Second
	}

	if ac.Journal.DBPath == "" {
		ac.Journal.DBPath = "./data/dht11-journal.db"
	}
	if ac.Journal.RetentionDays == 0 {
		ac.Journal.RetentionDays = 7
	}
	if ac.Journal.CleanupPeriod == 0 {
		ac.Journal.CleanupPeriod = time.Hour
	}
	if ac.Journal.BatchSize == 0 {
		ac.Journal.BatchSize = 50
	}
	if ac.Journal.FlushPeriod == 0 {
		ac.Journal.FlushPeriod = 5 * time.Second
	}
	if ac.Journal.ChannelSize == 0 {
		ac.Journal.ChannelSize = 500
	}

	if ac.Logging.Level == "" {
		ac.Logging.Level = "info"
	}
	if ac.Logging.Format == "" {
		ac.Logging.Format = "json"
	}
	if ac.Logging.MaxSizeMB == 0 {
		ac.Logging.MaxSizeMB = 100
	}
	if ac.Logging.MaxBackups == 0 {
		ac.Logging.MaxBackups = 10
	}
}

// OverrideFromEnv overrides config values from environment variables
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SENSOR_ID"); v != "" {
		ac.Sensor.ID = v
	}
	if v := os.Getenv("SENSOR_DRIVER"); v != "" {
		ac.Sensor.Driver = v
	}
	if v := os.Getenv("SENSOR_PIN"); v != "" {
		pin, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SENSOR_PIN: %w", err)
		}
		ac.Sensor.Pin = pin
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		ac.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		ac.Server.AuthToken = v
	}
	if v := os.Getenv("UPLINK_URL"); v != "" {
		ac.Uplink.URL = v
	}
	if v := os.Getenv("UPLINK_AUTH_TOKEN"); v != "" {
		ac.Uplink.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Sensor.ID == "" {
		return fmt.Errorf("sensor ID is required")
	}
	if !validDriver(ac.Sensor.Driver) {
		return fmt.Errorf("sensor driver %q must be one of %s", ac.Sensor.Driver, strings.Join(sensor.Drivers, ", "))
	}
	if ac.Sensor.Pin < 0 {
		return fmt.Errorf("sensor pin must not be negative")
	}
	if err := ac.Sensor.Timing.Validate(); err != nil {
		return err
	}

	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if ac.Server.RequestTimeout <= ac.Sensor.Timing.MinBudget() {
		return fmt.Errorf("request timeout %s leaves no room for a %s transaction",
			ac.Server.RequestTimeout, ac.Sensor.Timing.MinBudget())
	}

	if ac.Uplink.Enabled {
		u, err := url.Parse(ac.Uplink.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("uplink URL must start with ws:// or wss://")
		}
		if ac.Uplink.ReconnectInterval > ac.Uplink.MaxReconnectInterval {
			return fmt.Errorf("uplink reconnect interval exceeds max reconnect interval")
		}
	}

	if ac.Journal.Enabled && ac.Journal.RetentionDays < 1 {
		return fmt.Errorf("journal retention must be at least 1 day")
	}

	switch ac.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text")
	}
	return nil
}

func validDriver(driver string) bool {
	for _, d := range sensor.Drivers {
		if strings.EqualFold(d, driver) {
			return true
		}
	}
	return false
}

// Addr is the listen address for the HTTP server.
func (ac *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", ac.Server.Host, ac.Server.Port)
}

// String returns a safe string representation (hides auth tokens)
func (ac *AppConfig) String() string {
	server := ac.Server
	server.AuthToken = maskToken(server.AuthToken)
	uplink := ac.Uplink
	uplink.AuthToken = maskToken(uplink.AuthToken)
	return fmt.Sprintf("AppConfig{Sensor: %+v, Server: %+v, Uplink: %+v, Journal: %+v, Logging: %+v}",
		ac.Sensor,
		server,
		uplink,
		ac.Journal,
		ac.Logging,
	)
}
