package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	dbconfig "pollcast/pkg/database"
)

// Rate-limit backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the complete runtime configuration
// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Voting    *VotingConfig    `json:"voting"`
	Redis     *RedisConfig     `json:"redis"`
	Log       *LogConfig       `json:"log"`
}

// DatabaseConfig locates the sqlite file and bounds its writes
type DatabaseConfig struct {
	Path           string        `json:"path" env:"POLLCAST_DATABASE_PATH"`
	MaxConnections int           `json:"max_connections" env:"POLLCAST_DATABASE_MAX_CONNECTIONS"`
	WriteTimeout   time.Duration `json:"write_timeout" env:"POLLCAST_DATABASE_WRITE_TIMEOUT"`
}

// HTTPConfig configures the API and upgrade listener
type HTTPConfig struct {
	Host         string        `json:"host" env:"POLLCAST_HTTP_HOST"`
	Port         int           `json:"port" env:"POLLCAST_HTTP_PORT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"POLLCAST_HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"POLLCAST_HTTP_WRITE_TIMEOUT"`
	CORSOrigin   string        `json:"cors_origin" env:"POLLCAST_HTTP_CORS_ORIGIN"`
}

// WebSocketConfig holds heartbeat and buffering settings
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval" env:"POLLCAST_WEBSOCKET_PING_INTERVAL"`
	ReadTimeout    time.Duration `json:"read_timeout" env:"POLLCAST_WEBSOCKET_READ_TIMEOUT"`
	WriteTimeout   time.Duration `json:"write_timeout" env:"POLLCAST_WEBSOCKET_WRITE_TIMEOUT"`
	BufferSize     int           `json:"buffer_size" env:"POLLCAST_WEBSOCKET_BUFFER_SIZE"`
	MaxMessageSize int64         `json:"max_message_size" env:"POLLCAST_WEBSOCKET_MAX_MESSAGE_SIZE"`
}

// VotingConfig controls vote admission
type VotingConfig struct {
	RateLimitWindow   time.Duration `json:"rate_limit_window" env:"POLLCAST_VOTING_RATE_LIMIT_WINDOW"`
	SweepInterval     time.Duration `json:"sweep_interval" env:"POLLCAST_VOTING_SWEEP_INTERVAL"`
	RateLimitBackend  string        `json:"rate_limit_backend" env:"POLLCAST_VOTING_RATE_LIMIT_BACKEND"`
	TrustProxyHeaders bool          `json:"trust_proxy_headers" env:"POLLCAST_VOTING_TRUST_PROXY_HEADERS"`
}

// RedisConfig is only consulted when the redis rate-limit backend is selected
type RedisConfig struct {
	Addr      string `json:"addr" env:"POLLCAST_REDIS_ADDR"`
	Password  string `json:"password" env:"POLLCAST_REDIS_PASSWORD"`
	DB        int    `json:"db" env:"POLLCAST_REDIS_DB"`
	KeyPrefix string `json:"key_prefix" env:"POLLCAST_REDIS_KEY_PREFIX"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level" env:"POLLCAST_LOG_LEVEL"`
	Format string `json:"format" env:"POLLCAST_LOG_FORMAT"`
}

// DefaultConfig returns production-ready defaults
// FUNCTIONAL DISCOVERY: 10 second vote window, 30s heartbeat, local sqlite file
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/pollcast.db",
			MaxConnections: 10,
			WriteTimeout:   10 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			CORSOrigin:   "*",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 4096,
		},
		Voting: &VotingConfig{
			RateLimitWindow:  10 * time.Second,
			SweepInterval:    time.Minute,
			RateLimitBackend: BackendMemory,
		},
		Redis: &RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "pollcast:ratelimit",
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate rejects configurations that would fail at runtime
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
	if c.Database.WriteTimeout <= 0 {
		return fmt.Errorf("database write timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
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

	if c.Voting == nil {
		return fmt.Errorf("voting configuration is required")
	}
	if c.Voting.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.Voting.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	switch c.Voting.RateLimitBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis == nil || c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.Voting.RateLimitBackend)
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json'")
	}

	return nil
}

// Storage converts the database section into the storage layer's config.
func (c *DatabaseConfig) Storage() *dbconfig.Config {
	storage := dbconfig.DefaultConfig()
	storage.DatabasePath = c.Path
	storage.MaxConnections = c.MaxConnections
	storage.WriteTimeout = c.WriteTimeout
	return storage
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}

// Address returns host:port for the HTTP listener.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadFromEnv overlays POLLCAST_* environment variables on the defaults
// FUNCTIONAL DISCOVERY: Unset variables leave the default in place
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) error {
	sections := []interface{}{
		config.Database, config.HTTP, config.WebSocket,
		config.Voting, config.Redis, config.Log,
	}
	for _, section := range sections {
		if err := env.Parse(section); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}
	return nil
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate structs keep durations as strings like "10s"
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Voting    *VotingConfigFile    `json:"voting"`
	Redis     *RedisConfig         `json:"redis"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path"`
	MaxConnections int    `json:"max_connections"`
	WriteTimeout   string `json:"write_timeout"`
}

type HTTPConfigFile struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	CORSOrigin   string `json:"cors_origin"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	ReadTimeout    string `json:"read_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
	MaxMessageSize int64  `json:"max_message_size"`
}

type VotingConfigFile struct {
	RateLimitWindow   string `json:"rate_limit_window"`
	SweepInterval     string `json:"sweep_interval"`
	RateLimitBackend  string `json:"rate_limit_backend"`
	TrustProxyHeaders *bool  `json:"trust_proxy_headers"`
}

// LoadFromFile reads a JSON config file over the defaults
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var errs durationErrors
	if f := file.Database; f != nil {
		setString(&config.Database.Path, f.Path)
		setInt(&config.Database.MaxConnections, f.MaxConnections)
		errs.set(&config.Database.WriteTimeout, "database.write_timeout", f.WriteTimeout)
	}
	if f := file.HTTP; f != nil {
		setString(&config.HTTP.Host, f.Host)
		setInt(&config.HTTP.Port, f.Port)
		setString(&config.HTTP.CORSOrigin, f.CORSOrigin)
		errs.set(&config.HTTP.ReadTimeout, "http.read_timeout", f.ReadTimeout)
		errs.set(&config.HTTP.WriteTimeout, "http.write_timeout", f.WriteTimeout)
	}
	if f := file.WebSocket; f != nil {
		setInt(&config.WebSocket.BufferSize, f.BufferSize)
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
		errs.set(&config.WebSocket.PingInterval, "websocket.ping_interval", f.PingInterval)
		errs.set(&config.WebSocket.ReadTimeout, "websocket.read_timeout", f.ReadTimeout)
		errs.set(&config.WebSocket.WriteTimeout, "websocket.write_timeout", f.WriteTimeout)
	}
	if f := file.Voting; f != nil {
		setString(&config.Voting.RateLimitBackend, f.RateLimitBackend)
		if f.TrustProxyHeaders != nil {
			config.Voting.TrustProxyHeaders = *f.TrustProxyHeaders
		}
		errs.set(&config.Voting.RateLimitWindow, "voting.rate_limit_window", f.RateLimitWindow)
		errs.set(&config.Voting.SweepInterval, "voting.sweep_interval", f.SweepInterval)
	}
	if f := file.Redis; f != nil {
		setString(&config.Redis.Addr, f.Addr)
		setString(&config.Redis.Password, f.Password)
		setString(&config.Redis.KeyPrefix, f.KeyPrefix)
		setInt(&config.Redis.DB, f.DB)
	}
	if f := file.Log; f != nil {
		setString(&config.Log.Level, f.Level)
		setString(&config.Log.Format, f.Format)
	}

	if errs.first != nil {
		return fmt.Errorf("invalid duration in %s: %w", filepath, errs.first)
	}
	return nil
}

// LoadConfigWithPrecedence resolves defaults, then environment, then the
// file when one is given
// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// durationErrors keeps the first parse failure across many fields
type durationErrors struct {
	first error
}

func (e *durationErrors) set(dst *time.Duration, field, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		if e.first == nil {
			e.first = fmt.Errorf("%s: %w", field, err)
		}
		return
	}
	*dst = d
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}
