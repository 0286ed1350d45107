package config

import "time"

// Config is the root configuration for a capture instance.
type Config struct {
	Instance   InstanceConfig         `yaml:"instance"`
	Data       DataConfig             `yaml:"data"`
	Venues     map[string]VenueConfig `yaml:"venues"`
	Captures   []CaptureConfig        `yaml:"captures"`
	Feed       FeedConfig             `yaml:"feed"`
	Backfill   BackfillConfig         `yaml:"backfill"`
	Reconciler ReconcilerConfig       `yaml:"reconciler"`
	Writer     WriterConfig           `yaml:"writer"`
	Mirror     MirrorConfig           `yaml:"mirror"`
	Metrics    MetricsConfig          `yaml:"metrics"`
}

// InstanceConfig identifies this capture process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// DataConfig locates durable storage.
type DataConfig struct {
	Dir string `yaml:"dir"` // Root directory for partition files and watermarks
}

// VenueConfig holds per-venue endpoints, credentials, and the published
// rate limit shared by all backfill requests against that venue.
type VenueConfig struct {
	WSURL           string        `yaml:"ws_url"`
	RestURL         string        `yaml:"rest_url"`
	APIKey          string        `yaml:"api_key"`
	APISecret       string        `yaml:"api_secret"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	Timeout         time.Duration `yaml:"timeout"`
}

// CaptureConfig names one (symbol, venue) stream owned by this process.
type CaptureConfig struct {
	Symbol string `yaml:"symbol"`
	Venue  string `yaml:"venue"`
}

// FeedConfig holds stream ingestor settings.
type FeedConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// BackfillConfig holds backfill fetcher settings.
type BackfillConfig struct {
	PageSize        int           `yaml:"page_size"`
	Workers         int           `yaml:"workers"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	StalledInterval time.Duration `yaml:"stalled_interval"` // Slow retry cadence for stalled gaps
}

// ReconcilerConfig holds reconciler settings.
type ReconcilerConfig struct {
	MaxHeld     int           `yaml:"max_held"`     // Out-of-order events held before force release
	HoldTimeout time.Duration `yaml:"hold_timeout"` // Max wait for an out-of-order predecessor
}

// WriterConfig holds columnar writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MirrorConfig holds the optional queryable PostgreSQL mirror.
// The mirror is enabled when a host is configured.
type MirrorConfig struct {
	Postgres DBConfig `yaml:"postgres"`
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

// Enabled reports whether the mirror sink is configured.
func (m MirrorConfig) Enabled() bool {
	return m.Postgres.Host != ""
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
