package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single websocket connection to a venue stream endpoint.
// A client is single-use: once it reports an error or is closed, the
// ingestor discards it and connects a fresh one.
type Client interface {
	// Connect dials the stream endpoint.
	Connect(ctx context.Context) error

	// Close sends a close frame and tears the connection down.
	Close() error

	// Send writes raw bytes to the connection (subscribe commands).
	Send(data []byte) error

	// Messages returns all raw messages with receive timestamps.
	Messages() <-chan RawMessage

	// Errors reports the failure that ended the connection.
	Errors() <-chan error

	// Stats returns a snapshot of connection health.
	Stats() ClientStats
}

// ClientStats is a point-in-time snapshot of one connection, logged by
// the ingestor when it decides how to handle a disconnect.
type ClientStats struct {
	Connected  bool
	LastSeenAt time.Time // most recent inbound frame of any kind
	Received   int64     // data messages delivered downstream
	Dropped    int64     // data messages discarded on a full buffer
}

type wsClient struct {
	cfg    ClientConfig
	logger *slog.Logger

	inbound chan RawMessage
	errs    chan error
	done    chan struct{}

	sendMu sync.Mutex // serializes writes to conn

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	lastSeen  time.Time
	received  int64
	dropped   int64
}

// NewClient creates a websocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &wsClient{
		cfg:     cfg,
		logger:  logger,
		inbound: make(chan RawMessage, cfg.BufferSize),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (c *wsClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}

	// The venue pings on its own schedule and expects a timely pong;
	// every inbound control frame also counts as liveness.
	conn.SetPingHandler(func(payload string) error {
		c.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(c.cfg.WriteTimeout))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastSeen = time.Now()
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.watchLiveness(conn)

	c.logger.Debug("stream connected", "url", c.cfg.URL)
	return nil
}

func (c *wsClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn == nil {
		return nil
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout),
	)
	err := conn.Close()

	stats := c.Stats()
	c.logger.Debug("stream closed", "received", stats.Received, "dropped", stats.Dropped)
	return err
}

func (c *wsClient) Send(data []byte) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) Messages() <-chan RawMessage { return c.inbound }

func (c *wsClient) Errors() <-chan error { return c.errs }

func (c *wsClient) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientStats{
		Connected:  c.connected,
		LastSeenAt: c.lastSeen,
		Received:   c.received,
		Dropped:    c.dropped,
	}
}

// touch records inbound traffic for the staleness check.
func (c *wsClient) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// fail ends the connection with err. Only the first failure is
// reported; later ones are teardown noise.
func (c *wsClient) fail(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	select {
	case c.errs <- err:
	default:
	}
}

func (c *wsClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now() // before any queueing delay
		if err != nil {
			select {
			case <-c.done:
				// Close() already tore the connection down.
			default:
				c.fail(err)
			}
			return
		}

		c.mu.Lock()
		c.lastSeen = receivedAt
		c.received++
		c.mu.Unlock()

		select {
		case c.inbound <- RawMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		default:
			c.mu.Lock()
			c.dropped++
			n := c.dropped
			c.mu.Unlock()
			c.logger.Warn("inbound buffer full, dropping message", "dropped_total", n)
		}
	}
}

// watchLiveness sends keepalive pings and ends the connection when the
// wire has been silent past PingTimeout. Dead TCP connections otherwise
// read-block forever and the cursor silently stops advancing.
func (c *wsClient) watchLiveness(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("keepalive ping failed", "error", err)
			}

			c.mu.Lock()
			silence := time.Since(c.lastSeen)
			c.mu.Unlock()

			if silence > c.cfg.PingTimeout {
				c.logger.Warn("connection stale", "silence", silence, "timeout", c.cfg.PingTimeout)
				c.fail(ErrStaleConnection)
				return
			}
		}
	}
}
