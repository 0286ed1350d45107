package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.Data.Dir == "" {
		return errors.New("data.dir is required")
	}

	if len(c.Venues) == 0 {
		return errors.New("at least one venue must be configured")
	}
	for name, v := range c.Venues {
		if v.WSURL == "" {
			return fmt.Errorf("venues.%s.ws_url is required", name)
		}
		if v.RestURL == "" {
			return fmt.Errorf("venues.%s.rest_url is required", name)
		}
		if v.RateLimitPerSec <= 0 {
			return fmt.Errorf("venues.%s.rate_limit_per_sec must be > 0", name)
		}
		if v.RateLimitBurst < 1 {
			return fmt.Errorf("venues.%s.rate_limit_burst must be >= 1", name)
		}
	}

	if len(c.Captures) == 0 {
		return errors.New("at least one capture must be configured")
	}
	seen := make(map[string]struct{}, len(c.Captures))
	for i, capture := range c.Captures {
		if capture.Symbol == "" {
			return fmt.Errorf("captures[%d].symbol is required", i)
		}
		if capture.Venue == "" {
			return fmt.Errorf("captures[%d].venue is required", i)
		}
		if _, ok := c.Venues[capture.Venue]; !ok {
			return fmt.Errorf("captures[%d] references unknown venue %q", i, capture.Venue)
		}
		key := capture.Symbol + "|" + capture.Venue
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate capture for %s on %s", capture.Symbol, capture.Venue)
		}
		seen[key] = struct{}{}
	}

	if c.Backfill.PageSize < 1 {
		return errors.New("backfill.page_size must be >= 1")
	}
	if c.Backfill.Workers < 1 {
		return errors.New("backfill.workers must be >= 1")
	}

	if c.Reconciler.MaxHeld < 1 {
		return errors.New("reconciler.max_held must be >= 1")
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.BufferSize < 1 {
		return errors.New("writer.buffer_size must be >= 1")
	}

	if c.Mirror.Enabled() {
		if err := c.Mirror.Postgres.validate("mirror.postgres"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
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
