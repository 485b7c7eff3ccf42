// Package config loads the civic-chat runtime configuration from an optional
// YAML file and the environment, applies defaults, and validates the result.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Tyrowin/civic-chat/internal/logging"
)

// ErrInvalid is returned when the loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New()

// Config holds the server configuration settings including security controls.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Session   SessionConfig   `mapstructure:"session"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       logging.Config  `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WebSocketConfig controls the upgrade endpoint and per-connection limits.
type WebSocketConfig struct {
	Path             string        `mapstructure:"path" validate:"required,startswith=/"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowAllOrigins  bool          `mapstructure:"-"`
	MaxMessageSize   int64         `mapstructure:"max_message_size" validate:"gt=0"`
	SendBuffer       int           `mapstructure:"send_buffer" validate:"gt=0"`
	PingInterval     time.Duration `mapstructure:"ping_interval" validate:"gt=0,ltfield=PongWait"`
	PongWait         time.Duration `mapstructure:"pong_wait" validate:"gt=0"`
	WriteWait        time.Duration `mapstructure:"write_wait" validate:"gt=0"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst" validate:"gt=0"`
	RefillInterval time.Duration `mapstructure:"refill_interval" validate:"gt=0"`
}

// SessionConfig describes the express-session cookie shared with the web app.
type SessionConfig struct {
	CookieName string   `mapstructure:"cookie_name" validate:"required"`
	Secrets    []string `mapstructure:"secrets"`
	KeyPrefix  string   `mapstructure:"key_prefix"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=postgres mysql sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"omitempty,startswith=/"`
}

// Load reads configuration from configDir/config.yaml (if present) and the
// environment. Environment variables use the upper-cased key with dots
// replaced by underscores, e.g. WEBSOCKET_MAX_MESSAGE_SIZE.
func Load(configDir string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnvAliases(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg = Sanitize(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Sanitize(Config{})
}

func setDefaults(v *viper.Viper) {
	d := defaults()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("websocket.path", d.WebSocket.Path)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.pong_wait", d.WebSocket.PongWait)
	v.SetDefault("websocket.write_wait", d.WebSocket.WriteWait)
	v.SetDefault("websocket.handshake_timeout", d.WebSocket.HandshakeTimeout)

	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", d.RateLimit.RefillInterval)

	v.SetDefault("session.cookie_name", d.Session.CookieName)
	v.SetDefault("session.secrets", []string{})
	v.SetDefault("session.key_prefix", d.Session.KeyPrefix)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.conn_max_lifetime", time.Duration(0))
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", d.Log.ServiceName)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// bindEnvAliases keeps the short variable names accepted by earlier releases.
func bindEnvAliases(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")
	_ = v.BindEnv("websocket.max_message_size", "WEBSOCKET_MAX_MESSAGE_SIZE", "MAX_MESSAGE_SIZE")
	_ = v.BindEnv("rate_limit.burst", "RATE_LIMIT_BURST")
	_ = v.BindEnv("rate_limit.refill_interval", "RATE_LIMIT_REFILL_INTERVAL")
	_ = v.BindEnv("session.secrets", "SESSION_SECRETS", "SESSION_SECRET")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Path: "/ws",
			AllowedOrigins: []string{
				"http://localhost:8080",
			},
			MaxMessageSize:   4096,
			SendBuffer:       256,
			PingInterval:     54 * time.Second,
			PongWait:         60 * time.Second,
			WriteWait:        10 * time.Second,
			HandshakeTimeout: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Session: SessionConfig{
			CookieName: "connect.sid",
			KeyPrefix:  "sess:",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "civic-chat.db",
		},
		Log: logging.Config{
			Level:       "info",
			ServiceName: "civic-chat",
			MaxSizeMB:   10,
			MaxBackups:  5,
			MaxAgeDays:  28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Sanitize fills zero values with defaults and normalises the origin list.
func Sanitize(cfg Config) Config {
	d := defaults()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = d.Server.IdleTimeout
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	ws := &cfg.WebSocket
	if ws.Path == "" {
		ws.Path = d.WebSocket.Path
	}
	if ws.AllowedOrigins == nil {
		ws.AllowedOrigins = d.WebSocket.AllowedOrigins
	}
	if ws.MaxMessageSize <= 0 {
		ws.MaxMessageSize = d.WebSocket.MaxMessageSize
	}
	if ws.SendBuffer <= 0 {
		ws.SendBuffer = d.WebSocket.SendBuffer
	}
	if ws.PingInterval <= 0 {
		ws.PingInterval = d.WebSocket.PingInterval
	}
	if ws.PongWait <= 0 {
		ws.PongWait = d.WebSocket.PongWait
	}
	if ws.WriteWait <= 0 {
		ws.WriteWait = d.WebSocket.WriteWait
	}
	if ws.HandshakeTimeout <= 0 {
		ws.HandshakeTimeout = d.WebSocket.HandshakeTimeout
	}
	origins, allowAll := NormalizeOrigins(ws.AllowedOrigins)
	ws.AllowedOrigins = origins
	ws.AllowAllOrigins = ws.AllowAllOrigins || allowAll

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = d.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}

	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = d.Session.CookieName
	}
	if cfg.Session.KeyPrefix == "" {
		cfg.Session.KeyPrefix = d.Session.KeyPrefix
	}
	cfg.Session.Secrets = splitList(cfg.Session.Secrets)

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = d.Database.Driver
		if cfg.Database.DSN == "" {
			cfg.Database.DSN = d.Database.DSN
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.ServiceName == "" {
		cfg.Log.ServiceName = d.Log.ServiceName
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = d.Metrics.Path
	}

	return cfg
}

// Validate checks the struct constraints of the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// splitList flattens comma separated entries, which is how list values
// arrive from a single environment variable.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
