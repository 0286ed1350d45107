package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultVenueTimeout   = 30 * time.Second
	DefaultRatePerSec     = 10.0
	DefaultRateBurst      = 20
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 10
	DefaultMinConns       = 2
	DefaultReconnectBase  = 1 * time.Second
	DefaultReconnectMax   = 60 * time.Second
	DefaultPingTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultFeedBuffer     = 10000
	DefaultPageSize       = 1000
	DefaultWorkers        = 4
	DefaultMaxRetries     = 5
	DefaultRetryBackoff   = 1 * time.Second
	DefaultStalledRetry   = 5 * time.Minute
	DefaultMaxHeld        = 10000
	DefaultHoldTimeout    = 3 * time.Second
	DefaultBatchSize      = 5000
	DefaultFlushInterval  = 5 * time.Second
	DefaultWriterBuffer   = 20000
	DefaultMetricsPort    = 9090
	DefaultMetricsPath    = "/metrics"
)

func (c *Config) applyDefaults() {
	for name, v := range c.Venues {
		if v.Timeout == 0 {
			v.Timeout = DefaultVenueTimeout
		}
		if v.RateLimitPerSec == 0 {
			v.RateLimitPerSec = DefaultRatePerSec
		}
		if v.RateLimitBurst == 0 {
			v.RateLimitBurst = DefaultRateBurst
		}
		c.Venues[name] = v
	}

	// Feed defaults
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBase
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMax
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBuffer
	}

	// Backfill defaults
	if c.Backfill.PageSize == 0 {
		c.Backfill.PageSize = DefaultPageSize
	}
	if c.Backfill.Workers == 0 {
		c.Backfill.Workers = DefaultWorkers
	}
	if c.Backfill.MaxRetries == 0 {
		c.Backfill.MaxRetries = DefaultMaxRetries
	}
	if c.Backfill.RetryBackoff == 0 {
		c.Backfill.RetryBackoff = DefaultRetryBackoff
	}
	if c.Backfill.StalledInterval == 0 {
		c.Backfill.StalledInterval = DefaultStalledRetry
	}

	// Reconciler defaults
	if c.Reconciler.MaxHeld == 0 {
		c.Reconciler.MaxHeld = DefaultMaxHeld
	}
	if c.Reconciler.HoldTimeout == 0 {
		c.Reconciler.HoldTimeout = DefaultHoldTimeout
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultWriterBuffer
	}

	// Mirror defaults
	if c.Mirror.Enabled() {
		applyDBDefaults(&c.Mirror.Postgres)
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
