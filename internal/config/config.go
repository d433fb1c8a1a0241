package config

import (
	"time"

	"github.com/rickgao/shortlink-realtime/internal/realtime"
)

// Config is the root configuration for a linktap instance.
type Config struct {
	Realtime RealtimeConfig `yaml:"realtime"`
	Journal  JournalConfig  `yaml:"journal"`
	Database DBConfig       `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RealtimeConfig holds realtime endpoint settings.
type RealtimeConfig struct {
	URL              string        `yaml:"url"`
	Token            string        `yaml:"token"`      // Bearer token (usually ${LINK_API_TOKEN})
	TokenFile        string        `yaml:"token_file"` // Read on every handshake; wins over token
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	Subscribe        []string      `yaml:"subscribe"` // Message types to print and journal
}

// JournalConfig holds batch writer settings for archiving inbound envelopes.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ClientConfig converts to the realtime client configuration.
func (r RealtimeConfig) ClientConfig() realtime.Config {
	cfg := realtime.DefaultConfig()
	cfg.MaxAttempts = r.MaxAttempts
	cfg.BaseDelay = r.BaseDelay
	cfg.MaxDelay = r.MaxDelay
	cfg.HandshakeTimeout = r.HandshakeTimeout
	cfg.WriteTimeout = r.WriteTimeout
	cfg.PingInterval = r.PingInterval
	cfg.ReadTimeout = r.ReadTimeout
	return cfg
}
