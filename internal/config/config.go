package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment variable, e.g. LIVECLASS_HTTP_PORT
const EnvPrefix = "liveclass"

// MinSecretLength mirrors the verifier's lower bound on the HMAC secret
const MinSecretLength = 32

var (
	ErrMissingSecret = errors.New("auth secret is required (LIVECLASS_AUTH_SECRET)")
	ErrWeakSecret    = fmt.Errorf("auth secret must be at least %d bytes", MinSecretLength)
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database" yaml:"database"`
	HTTP      *HTTPConfig      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfig `json:"websocket" yaml:"websocket" envconfig:"websocket"`
	Auth      *AuthConfig      `json:"auth" yaml:"auth"`
	Client    *ClientConfig    `json:"client" yaml:"client"`
	Log       *LogConfig       `json:"log" yaml:"log"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path           string        `json:"path" yaml:"path"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	MaxConnections int           `json:"max_connections" yaml:"max_connections" split_words:"true"`
}

type HTTPConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" split_words:"true"`
	// AllowedOrigin gates CORS and the socket Origin check; "*" admits any
	AllowedOrigin string `json:"allowed_origin" yaml:"allowed_origin" split_words:"true"`
}

// Addr is the listen address for net/http
func (h *HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval     time.Duration `json:"ping_interval" yaml:"ping_interval" split_words:"true"`
	ReadTimeout      time.Duration `json:"read_timeout" yaml:"read_timeout" split_words:"true"`
	WriteTimeout     time.Duration `json:"write_timeout" yaml:"write_timeout" split_words:"true"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout" split_words:"true"`
	BufferSize       int           `json:"buffer_size" yaml:"buffer_size" split_words:"true"`
	MaxMessageBytes  int64         `json:"max_message_bytes" yaml:"max_message_bytes" split_words:"true"`
	QueueSize        int           `json:"queue_size" yaml:"queue_size" split_words:"true"`
}

type AuthConfig struct {
	// Secret signs and verifies every bearer; it has no default
	Secret   string        `json:"secret" yaml:"secret"`
	TokenTTL time.Duration `json:"token_ttl" yaml:"token_ttl" split_words:"true"`
}

// ClientConfig drives the participant client's reconnection policy
type ClientConfig struct {
	ServerURL         string        `json:"server_url" yaml:"server_url" split_words:"true"`
	MaxRetries        int           `json:"max_retries" yaml:"max_retries" split_words:"true"`
	BaseDelay         time.Duration `json:"base_delay" yaml:"base_delay" split_words:"true"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay" split_words:"true"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval" split_words:"true"`
	RequestTimeout    time.Duration `json:"request_timeout" yaml:"request_timeout" split_words:"true"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements
// Database on local filesystem, HTTP on standard port, WebSocket with 30s heartbeat
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/liveclass.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigin:   "http://localhost:3000",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			BufferSize:       100,
			MaxMessageBytes:  64 << 10,
			QueueSize:        1000,
		},
		Auth: &AuthConfig{
			TokenTTL: 12 * time.Hour,
		},
		Client: &ClientConfig{
			ServerURL:         "http://localhost:8080",
			MaxRetries:        3,
			BaseDelay:         3 * time.Second,
			MaxDelay:          15 * time.Second,
			HeartbeatInterval: 45 * time.Second,
			RequestTimeout:    10 * time.Second,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// port 0 binds any free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.AllowedOrigin == "" {
		return fmt.Errorf("HTTP allowed origin cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	// TECHNICAL DISCOVERY: A read deadline shorter than the ping interval
	// drops healthy idle sockets before the first pong can extend it
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 || c.WebSocket.HandshakeTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.BufferSize <= 0 || c.WebSocket.QueueSize <= 0 {
		return fmt.Errorf("WebSocket buffer and queue sizes must be positive")
	}

	if c.Auth == nil || c.Auth.Secret == "" {
		return ErrMissingSecret
	}
	if len(c.Auth.Secret) < MinSecretLength {
		return ErrWeakSecret
	}

	if c.Client == nil {
		return fmt.Errorf("client configuration is required")
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("client max retries cannot be negative")
	}
	if c.Client.BaseDelay <= 0 || c.Client.MaxDelay < c.Client.BaseDelay {
		return fmt.Errorf("client back-off needs 0 < base delay <= max delay")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Supports containerized deployments and configuration management systems
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides only the fields whose LIVECLASS_ variable is set
func applyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return nil
}

// LoadFromFile reads a YAML (or JSON) file over the defaults and validates it
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// TECHNICAL DISCOVERY: yaml.v3 decodes into the existing section pointers and
// parses "30s" style durations, so a file only needs the keys it changes.
// JSON documents are valid YAML and load through the same path.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv exports variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > .env > defaults
// Enables flexible deployment patterns while maintaining sane defaults
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load layers .env, environment and file over the defaults without
// validating, for commands that need only part of the configuration
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// NewLogger builds the process logger described by the Log section
func (l *LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}
