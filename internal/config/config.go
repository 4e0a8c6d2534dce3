// Package config provides Viper-based configuration loading for the parlor
// servers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// SocketConfig holds the websocket room endpoint settings.
type SocketConfig struct {
	// Host is the bind address for the HTTP listener serving /roomSocket.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// PingPeriod is the interval between liveness probes to each connection.
	PingPeriod time.Duration `mapstructure:"ping_period"`
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxFrameBytes is the maximum inbound frame size accepted from a client.
	MaxFrameBytes int64 `mapstructure:"max_frame_bytes"`
	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
func (s SocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PongWait returns how long a connection may go without a pong before it is
// presumed dead. One full probe cycle past the next probe: a client that
// misses a single probe window is disconnected.
func (s SocketConfig) PongWait() time.Duration {
	return s.PingPeriod * 2
}

// StateAPIConfig holds the CRUD persistence API settings.
type StateAPIConfig struct {
	// Host is the bind address for the state API listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the state API listener.
	Port int `mapstructure:"port"`
}

// Addr returns the "host:port" listen address.
func (s StateAPIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig bounds calls into the persistence store from the room
// coordinator.
type StoreConfig struct {
	// CallTimeout is the per-call deadline for store operations issued by
	// protocol handlers. Store failures are logged, never fatal.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Socket   SocketConfig   `mapstructure:"socket"`
	StateAPI StateAPIConfig `mapstructure:"stateapi"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error
// describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSocket(c.Socket); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateStateAPI(c.StateAPI); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateStore(c.Store); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSocket(s SocketConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("socket.port must be 1-65535, got %d", s.Port))
	}
	if s.PingPeriod <= 0 {
		errs = append(errs, "socket.ping_period must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "socket.write_timeout must be positive")
	}
	if s.MaxFrameBytes < 1 {
		errs = append(errs, fmt.Sprintf("socket.max_frame_bytes must be >= 1, got %d", s.MaxFrameBytes))
	}
	if s.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("socket.send_buffer must be >= 1, got %d", s.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateStateAPI(s StateAPIConfig) error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("stateapi.port must be 1-65535, got %d", s.Port)
	}
	return nil
}

func validateStore(s StoreConfig) error {
	if s.CallTimeout <= 0 {
		return errors.New("store.call_timeout must be positive")
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with PARLOR_ prefix
	v.SetEnvPrefix("PARLOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "parlor")
	v.SetDefault("database.password", "parlor")
	v.SetDefault("database.name", "parlor")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("socket.host", "0.0.0.0")
	v.SetDefault("socket.port", 3000)
	v.SetDefault("socket.ping_period", "5s")
	v.SetDefault("socket.write_timeout", "10s")
	v.SetDefault("socket.max_frame_bytes", 4096)
	v.SetDefault("socket.send_buffer", 64)

	v.SetDefault("stateapi.host", "0.0.0.0")
	v.SetDefault("stateapi.port", 3001)

	v.SetDefault("store.call_timeout", "3s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
