package feed

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// RawMessage wraps raw stream bytes with the local receive timestamp.
type RawMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// ConnState is the ingestor connection state.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateLive       ConnState = "live"
	StateBackingOff ConnState = "backing-off"
	StateClosed     ConnState = "closed"
)

// Cursor is the per-(symbol, venue) stream state. It is owned
// exclusively by its ingestor goroutine; no other task reads or writes
// it directly.
type Cursor struct {
	LastSeen int64     // Highest sequence emitted
	State    ConnState // Connection state
	Attempt  int       // Consecutive failed connection attempts
}

// ClientConfig configures a websocket client.
type ClientConfig struct {
	URL               string        // Stream URL (e.g., wss://stream.binance.com:9443/ws)
	HandshakeTimeout  time.Duration // Dial deadline
	HeartbeatInterval time.Duration // Cadence of keepalive pings and staleness checks
	PingTimeout       time.Duration // Max silence on the wire before the connection is stale
	WriteTimeout      time.Duration // Write deadline for sends and control frames
	BufferSize        int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		PingTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        10000,
	}
}

// IngestorConfig configures one stream ingestor.
type IngestorConfig struct {
	ReconnectBaseDelay time.Duration // Base wait before a reconnect attempt
	ReconnectMaxDelay  time.Duration // Backoff cap
}

// DefaultIngestorConfig returns sensible defaults.
func DefaultIngestorConfig() IngestorConfig {
	return IngestorConfig{
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  60 * time.Second,
	}
}

// resetTolerance is how far a sequence may fall behind the cursor
// before it is treated as a venue-side resync rather than a duplicate.
const resetTolerance int64 = 100_000
