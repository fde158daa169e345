package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Config is the server configuration. Values are layered as defaults,
// then MENTORSYNC_* environment variables, then the JSON file named by
// MENTORSYNC_CONFIG_FILE.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Relay     *RelayConfig     `json:"relay"`
}

type DatabaseConfig struct {
	Path           string `json:"path"`
	MaxConnections int    `json:"max_connections"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// WebSocketConfig controls the per-connection transport. ReadTimeout is how
// long a silent peer survives; it must exceed PingInterval.
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// RelayConfig controls the dispatcher and change relay.
type RelayConfig struct {
	// RateLimitPerMinute caps changes per sender; 0 disables the cap.
	// Changes over the cap are held and the newest is sent later.
	RateLimitPerMinute int `json:"rate_limit_per_minute"`
	QueueSize          int `json:"queue_size"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/mentorsync.db",
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     256,
			MaxMessageSize: 2 << 20,
		},
		Relay: &RelayConfig{
			RateLimitPerMinute: 0,
			QueueSize:          1000,
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	if c.Relay.RateLimitPerMinute < 0 {
		return fmt.Errorf("relay rate limit cannot be negative")
	}
	if c.Relay.QueueSize <= 0 {
		return fmt.Errorf("relay queue size must be positive")
	}

	return nil
}

// Address returns the host:port the HTTP server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv returns the defaults overridden by environment variables.
// Unparseable values are logged and ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("MENTORSYNC_DATABASE_PATH", &config.Database.Path)
	envInt("MENTORSYNC_DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)

	envString("MENTORSYNC_HTTP_HOST", &config.HTTP.Host)
	envInt("MENTORSYNC_HTTP_PORT", &config.HTTP.Port)
	envDuration("MENTORSYNC_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("MENTORSYNC_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("MENTORSYNC_HTTP_SHUTDOWN_TIMEOUT", &config.HTTP.ShutdownTimeout)

	envDuration("MENTORSYNC_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("MENTORSYNC_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("MENTORSYNC_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("MENTORSYNC_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	if v := os.Getenv("MENTORSYNC_WEBSOCKET_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.WebSocket.MaxMessageSize = size
		} else {
			log.Printf("Ignoring MENTORSYNC_WEBSOCKET_MAX_MESSAGE_SIZE=%q: %v", v, err)
		}
	}

	envInt("MENTORSYNC_RELAY_RATE_LIMIT", &config.Relay.RateLimitPerMinute)
	envInt("MENTORSYNC_RELAY_QUEUE_SIZE", &config.Relay.QueueSize)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = n
}

func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = d
}

// ConfigFile is the JSON layout of a configuration file. Durations are
// strings such as "30s"; zero values leave the current setting alone.
type ConfigFile struct {
	Database *struct {
		Path           string `json:"path"`
		MaxConnections int    `json:"max_connections"`
	} `json:"database"`
	HTTP *struct {
		Host            string `json:"host"`
		Port            int    `json:"port"`
		ReadTimeout     string `json:"read_timeout"`
		WriteTimeout    string `json:"write_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval   string `json:"ping_interval"`
		ReadTimeout    string `json:"read_timeout"`
		WriteTimeout   string `json:"write_timeout"`
		BufferSize     int    `json:"buffer_size"`
		MaxMessageSize int64  `json:"max_message_size"`
	} `json:"websocket"`
	Relay *struct {
		RateLimitPerMinute *int `json:"rate_limit_per_minute"`
		QueueSize          int  `json:"queue_size"`
	} `json:"relay"`
}

// LoadFromFile returns the defaults overridden by the JSON file at path.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var durErr error
	parse := func(s string, dst *time.Duration) {
		if s == "" || durErr != nil {
			return
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			durErr = fmt.Errorf("invalid duration %q in %s: %w", s, path, err)
			return
		}
		*dst = d
	}

	if f := file.Database; f != nil {
		if f.Path != "" {
			config.Database.Path = f.Path
		}
		if f.MaxConnections > 0 {
			config.Database.MaxConnections = f.MaxConnections
		}
	}

	if f := file.HTTP; f != nil {
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		parse(f.ReadTimeout, &config.HTTP.ReadTimeout)
		parse(f.WriteTimeout, &config.HTTP.WriteTimeout)
		parse(f.ShutdownTimeout, &config.HTTP.ShutdownTimeout)
	}

	if f := file.WebSocket; f != nil {
		parse(f.PingInterval, &config.WebSocket.PingInterval)
		parse(f.ReadTimeout, &config.WebSocket.ReadTimeout)
		parse(f.WriteTimeout, &config.WebSocket.WriteTimeout)
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
	}

	if f := file.Relay; f != nil {
		// pointer so an explicit 0 can disable rate limiting
		if f.RateLimitPerMinute != nil {
			config.Relay.RateLimitPerMinute = *f.RateLimitPerMinute
		}
		if f.QueueSize > 0 {
			config.Relay.QueueSize = f.QueueSize
		}
	}

	return durErr
}

// Load builds the configuration with precedence file > environment >
// defaults. The file is read from MENTORSYNC_CONFIG_FILE when set.
func Load() (*Config, error) {
	config := LoadFromEnv()

	if path := os.Getenv("MENTORSYNC_CONFIG_FILE"); path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
