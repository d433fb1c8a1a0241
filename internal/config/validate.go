package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Realtime.URL == "" {
		return errors.New("realtime.url is required")
	}
	u, err := url.Parse(c.Realtime.URL)
	if err != nil {
		return fmt.Errorf("realtime.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("realtime.url must use ws or wss, got %q", u.Scheme)
	}
	if c.Realtime.MaxAttempts < 0 {
		return errors.New("realtime.max_attempts must be >= 0")
	}
	if c.Realtime.MaxAttempts > MaxReconnectAttempts {
		return fmt.Errorf("realtime.max_attempts must be <= %d, got %d", MaxReconnectAttempts, c.Realtime.MaxAttempts)
	}
	if c.Realtime.BaseDelay <= 0 {
		return errors.New("realtime.base_delay must be > 0")
	}
	if c.Realtime.MaxDelay < c.Realtime.BaseDelay {
		return fmt.Errorf("realtime.max_delay (%v) cannot be less than base_delay (%v)", c.Realtime.MaxDelay, c.Realtime.BaseDelay)
	}
	for i, t := range c.Realtime.Subscribe {
		if t == "" {
			return fmt.Errorf("realtime.subscribe[%d] is empty", i)
		}
	}

	if c.Journal.Enabled {
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
		if len(c.Realtime.Subscribe) == 0 {
			return errors.New("journal.enabled requires realtime.subscribe")
		}
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
