package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigName = "config"
	defaultPort       = 8080
)

type Config struct {
	Host string
	Port int

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	WS WSConfig

	LogLevel slog.Level

	// AuditLogPath enables NDJSON telemetry when set. Leave empty to disable file logging.
	AuditLogPath string

	MetricsEnabled bool
}

// WSConfig tunes the per-connection WebSocket pumps.
type WSConfig struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration // 0 disables keepalive pings
	PongTimeout     time.Duration
	MaxMessageBytes int64
}

// Addr is the listen address in host:port form.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func Load() (Config, error) {
	// A .env file is optional; real environment variables always win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName(defaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")

	v.SetEnvPrefix("WHIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; env-only is fine.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	// Managed container platforms inject a bare PORT. An explicit Set outranks
	// WHIP_SERVER_PORT and the config file.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		v.Set("server.port", port)
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("ws.write_timeout", 10*time.Second)
	v.SetDefault("ws.ping_interval", 30*time.Second)
	v.SetDefault("ws.pong_timeout", 60*time.Second)
	v.SetDefault("ws.max_message_bytes", 64*1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("telemetry.audit_ndjson_path", "")
	v.SetDefault("metrics.enabled", true)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Host:              strings.TrimSpace(v.GetString("server.host")),
		Port:              v.GetInt("server.port"),
		ReadHeaderTimeout: v.GetDuration("server.read_header_timeout"),
		ShutdownTimeout:   v.GetDuration("server.shutdown_timeout"),
		WS: WSConfig{
			WriteTimeout:    v.GetDuration("ws.write_timeout"),
			PingInterval:    v.GetDuration("ws.ping_interval"),
			PongTimeout:     v.GetDuration("ws.pong_timeout"),
			MaxMessageBytes: v.GetInt64("ws.max_message_bytes"),
		},
		AuditLogPath:   strings.TrimSpace(v.GetString("telemetry.audit_ndjson_path")),
		MetricsEnabled: v.GetBool("metrics.enabled"),
	}

	if raw := strings.TrimSpace(v.GetString("server.port")); raw != "" && cfg.Port == 0 && raw != "0" {
		return Config{}, fmt.Errorf("invalid server.port %q", raw)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid server.port %d", cfg.Port)
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if cfg.WS.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("ws.write_timeout must be positive")
	}
	if cfg.WS.PingInterval < 0 {
		return Config{}, fmt.Errorf("ws.ping_interval must not be negative")
	}
	if cfg.WS.PingInterval > 0 && cfg.WS.PongTimeout <= cfg.WS.PingInterval {
		return Config{}, fmt.Errorf("ws.pong_timeout (%s) must exceed ws.ping_interval (%s)", cfg.WS.PongTimeout, cfg.WS.PingInterval)
	}
	if cfg.WS.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("ws.max_message_bytes must be positive")
	}

	lvl, err := parseLevel(v.GetString("log.level"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = lvl

	if cfg.AuditLogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditLogPath), 0o755); err != nil {
			return Config{}, fmt.Errorf("create telemetry dir: %w", err)
		}
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", s, err)
	}
	return lvl, nil
}
