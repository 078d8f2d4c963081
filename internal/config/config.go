package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Presence  PresenceConfig  `yaml:"presence"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Messages  MessagesConfig  `yaml:"messages"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	BasePath        string        `yaml:"base_path"`
	Env             string        `yaml:"env"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	EventTimeout    time.Duration `yaml:"event_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectRetryMin time.Duration `yaml:"connect_retry_min"`
	ConnectRetryMax time.Duration `yaml:"connect_retry_max"`
}

type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type PresenceConfig struct {
	DebounceDelay time.Duration `yaml:"debounce_delay"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

type WebSocketConfig struct {
	MaxMessageSize  int64    `yaml:"max_message_size"`
	SendBuffer      int      `yaml:"send_buffer"`
	EventsPerSecond float64  `yaml:"events_per_second"`
	EventBurst      int      `yaml:"event_burst"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

type MessagesConfig struct {
	MaxContentLength int    `yaml:"max_content_length"`
	DeleteBroadcast  string `yaml:"delete_broadcast"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8001,
			BasePath:        "/api/dm",
			Env:             "dev",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			EventTimeout:    10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnectRetryMin: 500 * time.Millisecond,
			ConnectRetryMax: 30 * time.Second,
		},
		Presence: PresenceConfig{
			DebounceDelay: 5 * time.Second,
			SweepSchedule: "@every 1m",
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize:  64 * 1024,
			SendBuffer:      256,
			EventsPerSecond: 20,
			EventBurst:      40,
			AllowedOrigins:  []string{"*"},
		},
		Messages: MessagesConfig{
			MaxContentLength: 4000,
			DeleteBroadcast:  "all",
		},
	}
}

// Load reads .env (if any), then the yaml file at path (if any), then
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Server.Port = p
	}
	if basePath := os.Getenv("SERVER_BASE_PATH"); basePath != "" {
		c.Server.BasePath = basePath
	}
	if env := os.Getenv("ENV"); env != "" {
		c.Server.Env = env
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		c.Log.Format = logFormat
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		c.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.URL = redisURL
		c.Redis.Enabled = true
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if delay := os.Getenv("PRESENCE_DEBOUNCE_DELAY"); delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("invalid PRESENCE_DEBOUNCE_DELAY %q: %w", delay, err)
		}
		c.Presence.DebounceDelay = d
	}
	if schedule := os.Getenv("PRESENCE_SWEEP_SCHEDULE"); schedule != "" {
		c.Presence.SweepSchedule = schedule
	}
	if origins := os.Getenv("WS_ALLOWED_ORIGINS"); origins != "" {
		c.WebSocket.AllowedOrigins = splitList(origins)
	}
	if scope := os.Getenv("MESSAGES_DELETE_BROADCAST"); scope != "" {
		c.Messages.DeleteBroadcast = scope
	}
	return nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	// the base path mounts copies of the root routes, so it cannot be the root itself
	if !strings.HasPrefix(c.Server.BasePath, "/") || strings.TrimRight(c.Server.BasePath, "/") == "" {
		return fmt.Errorf("server.base_path must be a non-root path starting with '/', got %q", c.Server.BasePath)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis is enabled")
	}
	if c.Presence.DebounceDelay <= 0 {
		return fmt.Errorf("presence.debounce_delay must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("websocket.max_message_size must be positive")
	}
	if c.WebSocket.EventsPerSecond <= 0 || c.WebSocket.EventBurst <= 0 {
		return fmt.Errorf("websocket rate limit must be positive")
	}
	if c.Messages.MaxContentLength <= 0 {
		return fmt.Errorf("messages.max_content_length must be positive")
	}
	switch c.Messages.DeleteBroadcast {
	case "all", "participants":
	default:
		return fmt.Errorf("messages.delete_broadcast must be all or participants, got %q", c.Messages.DeleteBroadcast)
	}
	return nil
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "prod" || c.Server.Env == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
