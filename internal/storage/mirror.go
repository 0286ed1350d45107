package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickvault/tickvault/internal/config"
)

// Mirror maintains an optional queryable PostgreSQL copy of the
// canonical stream. The parquet files are the durable record; mirror
// failures are logged and never fail a flush.
type Mirror struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// Connect creates the mirror connection pool and verifies it.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// buildConnString builds a PostgreSQL connection string from config.
func buildConnString(cfg config.DBConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// NewMirror wraps an established pool.
func NewMirror(db *pgxpool.Pool, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{db: db, logger: logger}
}

// EnsureSchema creates the mirror table if it does not exist.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	_, err := m.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS market_events (
			symbol       TEXT             NOT NULL,
			venue        TEXT             NOT NULL,
			sequence     BIGINT           NOT NULL,
			event_time   BIGINT           NOT NULL,
			capture_time BIGINT           NOT NULL,
			kind         TEXT             NOT NULL,
			price        DOUBLE PRECISION NOT NULL,
			size         DOUBLE PRECISION NOT NULL,
			side         TEXT             NOT NULL,
			trade_id     TEXT,
			PRIMARY KEY (symbol, venue, sequence)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure mirror schema: %w", err)
	}
	return nil
}

// Insert writes rows idempotently; replayed sequences are conflicts,
// not errors.
func (m *Mirror) Insert(ctx context.Context, rows []Row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO market_events (symbol, venue, sequence, event_time, capture_time, kind, price, size, side, trade_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (symbol, venue, sequence) DO NOTHING
		`, r.Symbol, r.Venue, r.Sequence, r.EventTime, r.CaptureTime, r.Kind, r.Price, r.Size, r.Side, r.TradeID)
	}

	results := m.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

// Close releases the pool.
func (m *Mirror) Close() {
	if m.db != nil {
		m.db.Close()
	}
}
