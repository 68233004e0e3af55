// Package config loads the gateway configuration from a TOML file.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"
	DefaultPGHost     = "127.0.0.1"
	DefaultPGPort     = 5432
	DefaultPGUser     = "postgres"
	DefaultPGDatabase = "botgate"
	DefaultPGSSLMode  = "disable"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Upstream UpstreamConfig `toml:"upstream"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// PostgresConfig describes the channel-config store connection.
// An empty Host means the gateway runs with the in-memory store.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port" validate:"omitempty,min=1,max=65535"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Database, c.SSLMode)
}

// Enabled reports whether a Postgres store is configured.
func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

type GatewayConfig struct {
	Workers          int `toml:"workers" validate:"omitempty,min=1,max=64"`
	QueueSize        int `toml:"queue_size" validate:"omitempty,min=1"`
	StreamTTLSeconds int `toml:"stream_ttl_seconds" validate:"omitempty,min=1"`
}

type UpstreamConfig struct {
	BaseURL        string `toml:"base_url" validate:"omitempty,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"omitempty,min=1"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Gateway: GatewayConfig{
			Workers:          4,
			QueueSize:        256,
			StreamTTLSeconds: 300,
		},
		Upstream: UpstreamConfig{
			BaseURL:        "http://127.0.0.1:8081",
			TimeoutSeconds: 120,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
